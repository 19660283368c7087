// Package recommend ranks the rule catalog against the current data state
// and produces an ordered, explained migration plan.
package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/lexicon-migrate/pkg/analyzer"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

const (
	// DefaultConcurrency bounds the previews run at once
	DefaultConcurrency = 4

	warningPenalty     = 10
	issueBonus         = 20
	manualInputPenalty = 15

	highVolumeRows     = 1000
	manyCriticalIssues = 3
)

// Previewer computes dry runs of a rule
type Previewer interface {
	Preview(ctx context.Context, rule model.Rule, inputs map[string]any) (model.Preview, error)
}

// Rules is the catalog the engine sweeps
type Rules interface {
	Get(id string) (model.Rule, error)
	List() []model.Rule
}

// QualityWeights weigh the four completion percentages into one score
type QualityWeights struct {
	Terminology float64
	Metadata    float64
	Cleanup     float64
	Structure   float64
}

// DefaultQualityWeights favour metadata and terminology
var DefaultQualityWeights = QualityWeights{Terminology: 0.3, Metadata: 0.4, Cleanup: 0.2, Structure: 0.1}

// Engine builds recommendations
type Engine struct {
	rules       Rules
	previewer   Previewer
	analyzer    *analyzer.Analyzer
	weights     QualityWeights
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithConcurrency bounds the number of concurrent previews
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithQualityWeights replaces the data quality weights
func WithQualityWeights(w QualityWeights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a recommendation engine
func New(rules Rules, previewer Previewer, a *analyzer.Analyzer, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		rules:       rules,
		previewer:   previewer,
		analyzer:    a,
		weights:     DefaultQualityWeights,
		concurrency: DefaultConcurrency,
		logger:      logger.Named("recommend"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AnalyzeDataState returns the cached or freshly computed data state
func (e *Engine) AnalyzeDataState(ctx context.Context) (model.DataStateAnalysis, error) {
	return e.analyzer.Analyze(ctx)
}

// ClearCache forces the next analysis to query the store
func (e *Engine) ClearCache(ctx context.Context) error {
	if err := e.analyzer.Invalidate(ctx); err != nil {
		return fmt.Errorf("failed to clear analysis cache: %w", err)
	}
	e.logger.Debug("Cleared analysis cache")
	return nil
}

// RecommendationForRule scores a single rule without sweeping the catalog.
// Zero-impact rules are returned as complete rather than filtered out.
func (e *Engine) RecommendationForRule(ctx context.Context, ruleID string) (model.Recommendation, error) {
	rule, err := e.rules.Get(ruleID)
	if err != nil {
		return model.Recommendation{}, err
	}
	analysis, err := e.AnalyzeDataState(ctx)
	if err != nil {
		return model.Recommendation{}, err
	}
	return e.recommend(ctx, rule, analysis), nil
}

// GenerateRecommendations previews every catalog rule and returns the ranked plan
func (e *Engine) GenerateRecommendations(ctx context.Context) (model.MigrationAnalysis, error) {
	start := e.now()
	analysis, err := e.AnalyzeDataState(ctx)
	if err != nil {
		return model.MigrationAnalysis{}, err
	}

	rules := e.rules.List()
	all := make([]model.Recommendation, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rule := range rules {
		i, rule := i, rule
		g.Go(func() error {
			all[i] = e.recommend(gctx, rule, analysis)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return model.MigrationAnalysis{}, fmt.Errorf("generating recommendations: %w", err)
	}

	recs := make([]model.Recommendation, 0, len(all))
	for _, r := range all {
		if r.EstimatedImpact.AffectedRows == 0 && r.Readiness != model.ReadinessBlocked {
			continue
		}
		recs = append(recs, r)
	}
	sortRecommendations(recs)

	plan := model.MigrationAnalysis{
		Recommendations: recs,
		ExecutionOrder:  executionOrder(recs),
		DataQuality:     e.dataQuality(analysis),
		GeneratedAt:     e.now(),
	}
	for _, r := range recs {
		plan.TotalIssues += r.EstimatedImpact.AffectedRows
		if r.Priority == model.PriorityCritical {
			plan.CriticalIssues++
		}
	}
	plan.EstimatedTotalTime = TimeBucket(plan.TotalIssues)
	plan.SafetyWarnings = planWarnings(plan)

	e.logger.Info("Generated migration recommendations",
		zap.Int("rules", len(rules)),
		zap.Int("recommendations", len(recs)),
		zap.Int("totalIssues", plan.TotalIssues),
		zap.Int("dataQuality", plan.DataQuality.Score),
		zap.Duration("duration", e.now().Sub(start)))
	return plan, nil
}

// recommend previews one rule and classifies it. A failing preview is not an
// error here: the rule is reported blocked with the failure as its blocker.
func (e *Engine) recommend(ctx context.Context, rule model.Rule, analysis model.DataStateAnalysis) model.Recommendation {
	rec := model.Recommendation{
		Rule:     rule,
		Priority: rule.Priority,
		EstimatedImpact: model.Impact{
			AffectedTables: []string{rule.Pattern.Table},
		},
	}

	preview, err := e.previewer.Preview(ctx, rule, nil)
	if err != nil {
		e.logger.Warn("Preview failed during recommendation",
			zap.String("ruleId", rule.ID), zap.Error(err))
		rec.Readiness = model.ReadinessBlocked
		rec.Blockers = []string{fmt.Sprintf("Preview failed: %v", err)}
		rec.Confidence = confidence(rule, nil, analysis)
		rec.EstimatedImpact.ExecutionTime = formatEstimate(0)
		rec.Reasons = []string{"The rule could not be evaluated against the current data"}
		return rec
	}

	rec.Preview = &preview
	rec.EstimatedImpact.AffectedRows = preview.AffectedRows
	rec.EstimatedImpact.ExecutionTime = formatEstimate(preview.EstimatedDuration)
	rec.Confidence = confidence(rule, preview.Warnings, analysis)
	rec.Readiness = readiness(rule, preview)
	if rec.Readiness == model.ReadinessBlocked {
		rec.Blockers = append([]string(nil), preview.Violations...)
	}
	rec.Reasons = reasons(rule, preview, analysis)
	return rec
}

func readiness(rule model.Rule, preview model.Preview) model.Readiness {
	switch {
	case preview.AffectedRows == 0:
		return model.ReadinessComplete
	case len(preview.Violations) > 0:
		return model.ReadinessBlocked
	case rule.RequiresManualInput:
		return model.ReadinessNeedsInput
	default:
		return model.ReadinessReady
	}
}

// confidence starts from full certainty, loses points per warning, gains when
// the analysis shows outstanding work in the rule's category and loses again
// when a human has to supply values.
func confidence(rule model.Rule, warnings []string, analysis model.DataStateAnalysis) int {
	score := 100 - warningPenalty*len(warnings)
	if analysis.HasIssues(rule.Category) {
		score = min(100, score+issueBonus)
	}
	if rule.RequiresManualInput {
		score -= manualInputPenalty
	}
	return min(100, max(0, score))
}

func reasons(rule model.Rule, preview model.Preview, analysis model.DataStateAnalysis) []string {
	out := []string{fmt.Sprintf("%d records in %s match this rule", preview.AffectedRows, rule.Pattern.Table)}
	if analysis.HasIssues(rule.Category) {
		out = append(out, fmt.Sprintf("Data analysis shows outstanding %s issues", rule.Category))
	}
	if rule.Priority == model.PriorityCritical {
		out = append(out, "Critical priority fix")
	}
	if rule.RequiresManualInput {
		keys := make([]string, len(rule.ManualInputFields))
		for i, f := range rule.ManualInputFields {
			keys[i] = f.Key
		}
		out = append(out, "Requires manual input: "+strings.Join(keys, ", "))
	} else if rule.AutoExecutable {
		out = append(out, "Can run without operator input")
	}
	out = append(out, preview.Warnings...)
	return out
}

func sortRecommendations(recs []model.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if ri, rj := recs[i].Priority.Rank(), recs[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		return recs[i].Confidence > recs[j].Confidence
	})
}

// executionOrder expects recs sorted by priority then confidence
func executionOrder(recs []model.Recommendation) []string {
	order := make([]string, 0, len(recs))
	pick := func(keep func(model.Recommendation) bool) {
		for _, r := range recs {
			if keep(r) {
				order = append(order, r.Rule.ID)
			}
		}
	}
	pick(func(r model.Recommendation) bool {
		return r.Readiness == model.ReadinessReady && r.Priority == model.PriorityCritical
	})
	pick(func(r model.Recommendation) bool {
		return r.Readiness == model.ReadinessReady && r.Priority != model.PriorityCritical
	})
	pick(func(r model.Recommendation) bool {
		return r.Readiness == model.ReadinessNeedsInput
	})
	return order
}

func planWarnings(plan model.MigrationAnalysis) []string {
	warnings := []string{}
	if plan.TotalIssues > highVolumeRows {
		warnings = append(warnings, fmt.Sprintf("High volume: %d records would be modified in total", plan.TotalIssues))
	}
	if plan.CriticalIssues > manyCriticalIssues {
		warnings = append(warnings, fmt.Sprintf("%d critical issues need attention", plan.CriticalIssues))
	}

	var blocked, needsInput int
	for _, r := range plan.Recommendations {
		switch r.Readiness {
		case model.ReadinessBlocked:
			blocked++
		case model.ReadinessNeedsInput:
			needsInput++
		}
	}
	if blocked > 0 {
		warnings = append(warnings, fmt.Sprintf("%d rules are blocked and excluded from the execution order", blocked))
	}
	if needsInput > 0 {
		warnings = append(warnings, fmt.Sprintf("%d rules require manual input before they can run", needsInput))
	}
	return warnings
}

func (e *Engine) dataQuality(a model.DataStateAnalysis) model.DataQuality {
	w := e.weights
	total := w.Terminology + w.Metadata + w.Cleanup + w.Structure
	score := 100
	if total > 0 {
		weighted := w.Terminology*float64(a.Terminology.CompletionPercentage) +
			w.Metadata*float64(a.Metadata.CompletionPercentage) +
			w.Cleanup*float64(a.Cleanup.CompletionPercentage) +
			w.Structure*float64(a.Structure.CompletionPercentage)
		score = int(math.Round(weighted / total))
	}

	q := model.DataQuality{Score: min(100, max(0, score)), Issues: []string{}, Improvements: []string{}}
	issue := func(n int, format string) {
		if n > 0 {
			q.Issues = append(q.Issues, fmt.Sprintf(format, n))
		}
	}
	issue(a.Terminology.LegacyTerms, "%d word forms use legacy person terminology")
	issue(a.Terminology.MixedUsage, "%d word forms mix legacy and universal terminology")
	issue(a.Metadata.MissingAuxiliaries, "%d translations are missing an auxiliary")
	issue(a.Metadata.MissingTransitivity, "%d translations are missing transitivity")
	issue(a.Cleanup.DeprecatedTags, "%d entries carry deprecated tags")
	issue(a.Cleanup.InconsistentFormatting, "%d entries have inconsistently formatted tags")
	issue(a.Structure.OrphanedRecords, "%d orphaned records")
	issue(a.Structure.MissingRelationships, "%d records are missing required relationships")

	improve := func(pct int, name string) {
		if pct < 100 {
			q.Improvements = append(q.Improvements, fmt.Sprintf("Raise %s completion from %d%%", name, pct))
		}
	}
	improve(a.Terminology.CompletionPercentage, "terminology")
	improve(a.Metadata.CompletionPercentage, "metadata")
	improve(a.Cleanup.CompletionPercentage, "tag cleanup")
	improve(a.Structure.CompletionPercentage, "structural integrity")
	if a.Structure.Defaulted {
		q.Improvements = append(q.Improvements, "Install the integrity check procedures to measure structure")
	}
	return q
}

// TimeBucket turns a total row volume into a coarse duration label
func TimeBucket(rows int) string {
	switch {
	case rows < 100:
		return "under 30 seconds"
	case rows < 500:
		return "1-2 minutes"
	case rows < 1000:
		return "2-5 minutes"
	default:
		return "5+ minutes"
	}
}

func formatEstimate(d time.Duration) string {
	if d < time.Second {
		return "under 1 second"
	}
	return "~" + d.Round(time.Second).String()
}
