package executor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// RuleMetrics tracks execution totals for one rule
type RuleMetrics struct {
	RuleID       string
	Completed    int
	Failed       int
	RolledBack   int
	AffectedRows int
	TotalTime    time.Duration
	LastError    string
}

// Executions returns the number of finished executions of the rule
func (rm *RuleMetrics) Executions() int {
	return rm.Completed + rm.Failed
}

// Metrics exports execution metrics to Prometheus and keeps a per-rule
// summary for the text report.
type Metrics struct {
	mu        sync.Mutex
	logger    *zap.Logger
	startTime time.Time
	rules     map[string]*RuleMetrics
	errors    map[model.ErrorKind]int

	executions   *prometheus.CounterVec
	affectedRows *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rollbacks    *prometheus.CounterVec

	registry prometheus.Registerer
}

// MetricsConfig configures the Prometheus collectors
type MetricsConfig struct {
	Namespace string
	// Registry receives the collectors; a new registry is used when nil
	Registry        prometheus.Registerer
	DurationBuckets []float64
}

// NewMetrics creates and registers the execution collectors
func NewMetrics(cfg MetricsConfig, logger *zap.Logger) (*Metrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "lexmigrate"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{
		logger:    logger.Named("metrics"),
		startTime: time.Now(),
		rules:     make(map[string]*RuleMetrics),
		errors:    make(map[model.ErrorKind]int),
		registry:  cfg.Registry,
	}

	m.executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total number of rule executions by final status",
		},
		[]string{"rule_id", "status"},
	)
	m.affectedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "executor",
			Name:      "affected_rows_total",
			Help:      "Total number of rows modified by rule executions",
		},
		[]string{"rule_id"},
	)
	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Duration of rule executions in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"rule_id", "status"},
	)
	m.rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "executor",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks by trigger and outcome",
		},
		[]string{"rule_id", "trigger", "outcome"},
	)

	for _, c := range []prometheus.Collector{m.executions, m.affectedRows, m.duration, m.rollbacks} {
		if err := cfg.Registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) rule(id string) *RuleMetrics {
	rm, ok := m.rules[id]
	if !ok {
		rm = &RuleMetrics{RuleID: id}
		m.rules[id] = rm
	}
	return rm
}

// RecordExecution records a finished execution
func (m *Metrics) RecordExecution(exec model.Execution, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	status := string(exec.Status)
	m.executions.WithLabelValues(exec.RuleID, status).Inc()
	m.affectedRows.WithLabelValues(exec.RuleID).Add(float64(exec.AffectedRows))
	m.duration.WithLabelValues(exec.RuleID, status).Observe(exec.Duration().Seconds())

	rm := m.rule(exec.RuleID)
	rm.AffectedRows += exec.AffectedRows
	rm.TotalTime += exec.Duration()
	if exec.Status == model.StatusFailed {
		rm.Failed++
		rm.LastError = exec.ErrorMessage
		m.errors[model.KindOf(err)]++
	} else {
		rm.Completed++
	}
}

// RecordRollback records a rollback attempt; automatic rollbacks follow a failed execution
func (m *Metrics) RecordRollback(ruleID string, automatic bool, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	trigger := "manual"
	if automatic {
		trigger = "automatic"
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		m.errors[model.ErrorKindRollback]++
	}
	m.rollbacks.WithLabelValues(ruleID, trigger, outcome).Inc()

	if err == nil && !automatic {
		m.rule(ruleID).RolledBack++
	}
}

// Rule returns a copy of the totals for one rule
func (m *Metrics) Rule(id string) RuleMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rm, ok := m.rules[id]; ok {
		return *rm
	}
	return RuleMetrics{RuleID: id}
}

// Report renders a plain-text summary of every execution recorded so far
func (m *Metrics) Report() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var completed, failed, rolledBack, rows int
	ids := make([]string, 0, len(m.rules))
	for id, rm := range m.rules {
		ids = append(ids, id)
		completed += rm.Completed
		failed += rm.Failed
		rolledBack += rm.RolledBack
		rows += rm.AffectedRows
	}
	sort.Strings(ids)
	total := completed + failed

	var b strings.Builder
	fmt.Fprintf(&b, `
Migration Metrics Report
========================
Session Duration:        %s

Executions
----------
Total Executions:        %d
Completed:               %d (%.1f%%)
Failed:                  %d (%.1f%%)
Rolled Back:             %d
Rows Modified:           %d
`,
		formatDuration(time.Since(m.startTime)),
		total,
		completed, percentage(completed, total),
		failed, percentage(failed, total),
		rolledBack,
		rows,
	)

	if len(ids) > 0 {
		b.WriteString("\nRule Details\n------------\n")
		for _, id := range ids {
			rm := m.rules[id]
			fmt.Fprintf(&b, "- %s: %d runs, %.1f%% success, %s, %d rows\n",
				id, rm.Executions(), percentage(rm.Completed, rm.Executions()),
				formatDuration(rm.TotalTime), rm.AffectedRows)
		}
	}

	if len(m.errors) > 0 {
		b.WriteString("\nError Distribution\n------------------\n")
		totalErrors := 0
		kinds := make([]model.ErrorKind, 0, len(m.errors))
		for kind, count := range m.errors {
			totalErrors += count
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, kind := range kinds {
			count := m.errors[kind]
			fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", kind, count, percentage(count, totalErrors))
		}
	}
	return b.String()
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// percentage avoids division by zero
func percentage(value, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(value) / float64(total) * 100
}
