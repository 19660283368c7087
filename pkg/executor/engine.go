// Package executor previews, executes and rolls back migration rules and
// keeps the journal of every execution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/matcher"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/safety"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
	"github.com/David-Botos/lexicon-migrate/pkg/transformer"
)

const (
	// DefaultSampleSize is the number of records returned with a preview
	DefaultSampleSize = 10
	// DefaultRollbackTimeout bounds a rollback started after a failure
	DefaultRollbackTimeout = 2 * time.Minute

	arrayCostPerRow = 2 * time.Millisecond
	jsonCostPerRow  = 5 * time.Millisecond
)

// RuleSource looks rules up by id
type RuleSource interface {
	Get(id string) (model.Rule, error)
}

// ExecuteOptions controls one execution
type ExecuteOptions struct {
	// SkipSafetyChecks bypasses the hard checks, including manual input validation.
	// An automated run of a rule needing user confirmation is still refused.
	SkipSafetyChecks bool
	// Automated marks an unattended run; rules needing user confirmation are refused
	Automated bool
}

// Engine runs rules against a store
type Engine struct {
	rules       RuleSource
	store       store.Store
	matcher     *matcher.Matcher
	transformer *transformer.Transformer
	safety      *safety.Evaluator
	verifier    *Verifier
	journal     Journal
	metrics     *Metrics
	logger      *zap.Logger

	vocab           lexicon.Vocabulary
	sampleSize      int
	rollbackTimeout time.Duration
	now             func() time.Time
	newID           func() string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures an Engine
type Option func(*Engine)

// WithJournal sets the execution journal; an in-memory journal is used by default
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSampleSize sets how many records a preview returns
func WithSampleSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sampleSize = n
		}
	}
}

// WithVocabulary sets the vocabulary used for sensitive-table warnings
func WithVocabulary(v lexicon.Vocabulary) Option {
	return func(e *Engine) { e.vocab = v }
}

// WithRollbackTimeout bounds automatic rollbacks
func WithRollbackTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.rollbackTimeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the execution id generator
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an Engine
func NewEngine(rules RuleSource, st store.Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		rules:           rules,
		store:           st,
		journal:         NewMemoryJournal(),
		logger:          logger.Named("executor"),
		vocab:           lexicon.DefaultVocabulary(),
		sampleSize:      DefaultSampleSize,
		rollbackTimeout: DefaultRollbackTimeout,
		now:             time.Now,
		newID:           uuid.NewString,
		locks:           make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.matcher = matcher.New(st, logger)
	e.transformer = transformer.New(logger)
	e.safety = safety.New(e.vocab, logger)
	e.verifier = NewVerifier(e.matcher, e.logger)
	return e
}

// Matcher returns the engine's matcher
func (e *Engine) Matcher() *matcher.Matcher {
	return e.matcher
}

// EstimateDuration is a rough linear cost model of applying rows changes
func EstimateDuration(t model.TransformationType, rows int) time.Duration {
	if t == model.TransformArrayReplace || t == model.TransformValueReplace {
		return time.Duration(rows) * arrayCostPerRow
	}
	return time.Duration(rows) * jsonCostPerRow
}

// Preview is a read-only dry run of rule. It never mutates the store and is
// safe to call concurrently.
func (e *Engine) Preview(ctx context.Context, rule model.Rule, inputs map[string]any) (model.Preview, error) {
	affected, err := e.matcher.CountAffectedRows(ctx, rule)
	if err != nil {
		return model.Preview{}, err
	}
	sample, err := e.matcher.SampleAffectedRows(ctx, rule, e.sampleSize)
	if err != nil {
		return model.Preview{}, err
	}

	ops, err := e.transformer.GenerateOperations(rule, inputs, false)
	if err != nil {
		return model.Preview{}, err
	}
	rollback, err := e.transformer.GenerateRollbackOperations(rule, sample, nil)
	if err != nil {
		return model.Preview{}, err
	}

	preview := model.Preview{
		RuleID:             rule.ID,
		AffectedRows:       affected,
		Sample:             sample,
		Operations:         ops,
		RollbackOperations: rollback,
		EstimatedDuration:  EstimateDuration(rule.Transformation.Type, affected),
		Warnings:           e.safety.CollectWarnings(rule, affected),
		Violations:         e.safety.Violations(rule, affected),
	}

	e.logger.Debug("Generated preview",
		zap.String("ruleId", rule.ID),
		zap.Int("affectedRows", affected),
		zap.Int("operations", len(ops)),
		zap.Int("warnings", len(preview.Warnings)))
	return preview, nil
}

// Execute applies rule and returns the final execution record. The record is
// also returned alongside an error, in which case its status is failed.
func (e *Engine) Execute(ctx context.Context, rule model.Rule, inputs map[string]any, opts ExecuteOptions) (model.Execution, error) {
	exec := model.NewExecution(e.newID(), rule.ID, e.now())
	if err := e.journal.Save(ctx, exec.Clone()); err != nil {
		return exec.Clone(), fmt.Errorf("failed to record execution start: %w", err)
	}

	log := e.logger.With(zap.String("ruleId", rule.ID), zap.String("executionId", exec.ID))
	log.Info("Starting execution",
		zap.String("table", rule.Pattern.Table),
		zap.Bool("skipSafetyChecks", opts.SkipSafetyChecks),
		zap.Bool("automated", opts.Automated))

	unlock := e.lockTable(rule.Pattern.Table)
	defer unlock()

	if opts.SkipSafetyChecks {
		if err := safety.CheckAutomation(rule, opts.Automated); err != nil {
			log.Warn("Refusing unattended execution", zap.Error(err))
			return e.fail(ctx, exec, err)
		}
	} else {
		affected, err := e.matcher.CountAffectedRows(ctx, rule)
		if err != nil {
			return e.fail(ctx, exec, err)
		}
		if err := e.safety.Evaluate(rule, affected, inputs, opts.Automated); err != nil {
			log.Warn("Safety check failed", zap.Error(err))
			return e.fail(ctx, exec, err)
		}
	}

	ops, err := e.transformer.GenerateOperations(rule, inputs, true)
	if err != nil {
		return e.fail(ctx, exec, err)
	}
	if ops, err = e.scope(ctx, rule, ops); err != nil {
		return e.fail(ctx, exec, err)
	}

	if rule.NeedsBackup() {
		name := backupName(rule.Pattern.Table, exec)
		if err := e.store.CreateBackup(ctx, rule.Pattern.Table, name); err != nil {
			return e.fail(ctx, exec, fmt.Errorf("failed to back up %s: %w", rule.Pattern.Table, err))
		}
		exec.BackupTable = name
		log.Info("Created backup", zap.String("backup", name))
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, rule, exec, &model.TransformationError{
				RuleID: rule.ID, Index: i, Operation: op, RowsTouched: exec.AffectedRows, Err: err,
			})
		}

		res, err := e.store.Apply(ctx, op)
		if err != nil {
			return e.abort(ctx, rule, exec, &model.TransformationError{
				RuleID: rule.ID, Index: i, Operation: op, RowsTouched: exec.AffectedRows, Err: err,
			})
		}
		exec.Record(model.AppliedOperation{
			Operation:    op,
			RowsAffected: res.RowsAffected,
			RowIDs:       res.RowIDs,
			Before:       res.Before,
			AppliedAt:    e.now(),
		})
		log.Debug("Applied operation",
			zap.Int("index", i),
			zap.String("description", op.Description),
			zap.Int("rows", res.RowsAffected))
	}

	if exec.BackupTable != "" && !rule.RollbackStrategy.RetainBackup && rule.RollbackStrategy.Type != model.RollbackBackup {
		if err := e.store.DropBackup(ctx, exec.BackupTable); err != nil {
			log.Warn("Failed to drop backup", zap.String("backup", exec.BackupTable), zap.Error(err))
		} else {
			exec.BackupTable = ""
		}
	}

	if err := exec.Complete(e.now()); err != nil {
		return exec.Clone(), err
	}
	if err := e.journal.Save(ctx, exec.Clone()); err != nil {
		log.Error("Failed to record completed execution", zap.Error(err))
	}
	e.metrics.RecordExecution(exec.Clone(), nil)

	log.Info("Execution completed",
		zap.Int("affectedRows", exec.AffectedRows),
		zap.Duration("duration", exec.Duration()))

	if _, err := e.verifier.Verify(ctx, rule, exec.Clone()); err != nil {
		log.Warn("Post-execution verification failed", zap.Error(err))
	}
	return exec.Clone(), nil
}

// scope restricts JSON merges that carry no key guard to the matched rows.
// A merge with nothing to match is dropped.
func (e *Engine) scope(ctx context.Context, rule model.Rule, ops []model.Operation) ([]model.Operation, error) {
	var ids []string
	out := ops[:0:0]
	for _, op := range ops {
		if op.Kind != model.OpJSONMerge || op.MissingKey != "" || len(op.RowIDs) > 0 {
			out = append(out, op)
			continue
		}
		if ids == nil {
			rows, err := e.matcher.FindAffectedRows(ctx, rule)
			if err != nil {
				return nil, err
			}
			ids = make([]string, 0, len(rows))
			for _, r := range rows {
				if id := r.ID(); id != "" {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		op.RowIDs = ids
		out = append(out, op)
	}
	return out, nil
}

// fail records a failure that happened before any mutation
// backupName is {table}_backup_{unixmilli}_{id}, where id is up to eight
// lowercase alphanumerics of the execution id so runs in the same millisecond
// do not collide.
func backupName(table string, exec *model.Execution) string {
	var suffix strings.Builder
	for _, r := range strings.ToLower(exec.ID) {
		if suffix.Len() == 8 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			suffix.WriteRune(r)
		}
	}
	return fmt.Sprintf("%s_backup_%d_%s", table, exec.StartTime.UnixMilli(), suffix.String())
}

func (e *Engine) fail(ctx context.Context, exec *model.Execution, cause error) (model.Execution, error) {
	if err := exec.Fail(e.now(), cause.Error()); err != nil {
		return exec.Clone(), errors.Join(cause, err)
	}
	if err := e.journal.Save(context.WithoutCancel(ctx), exec.Clone()); err != nil {
		e.logger.Error("Failed to record failed execution", zap.String("executionId", exec.ID), zap.Error(err))
	}
	e.metrics.RecordExecution(exec.Clone(), cause)
	return exec.Clone(), cause
}

// abort records a mid-execution failure and attempts an automatic rollback
// unless the rule's strategy is custom.
func (e *Engine) abort(ctx context.Context, rule model.Rule, exec *model.Execution, cause error) (model.Execution, error) {
	log := e.logger.With(zap.String("ruleId", rule.ID), zap.String("executionId", exec.ID))
	log.Error("Execution failed", zap.Int("rowsTouched", exec.AffectedRows), zap.Error(cause))

	if err := exec.Fail(e.now(), cause.Error()); err != nil {
		return exec.Clone(), errors.Join(cause, err)
	}

	result := cause
	if rule.RollbackStrategy.Type == model.RollbackCustom {
		exec.ErrorMessage += "; automatic rollback skipped for custom strategy, manual intervention required"
		log.Warn("Automatic rollback skipped", zap.Int("rowsTouched", exec.AffectedRows))
	} else {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.rollbackTimeout)
		err := e.applyRollback(rctx, rule, exec)
		cancel()
		e.metrics.RecordRollback(rule.ID, true, err)

		if err != nil {
			rbErr := &model.RollbackError{RuleID: rule.ID, ExecutionID: exec.ID, Cause: cause, Err: err}
			exec.ErrorMessage = rbErr.Error()
			result = rbErr
			log.Error("Automatic rollback failed", zap.Error(err))
		} else {
			log.Info("Automatic rollback succeeded")
		}
	}

	if err := e.journal.Save(context.WithoutCancel(ctx), exec.Clone()); err != nil {
		log.Error("Failed to record failed execution", zap.Error(err))
	}
	e.metrics.RecordExecution(exec.Clone(), result)
	return exec.Clone(), result
}

func (e *Engine) applyRollback(ctx context.Context, rule model.Rule, exec *model.Execution) error {
	ops, err := e.transformer.GenerateRollbackOperations(rule, nil, exec)
	if err != nil {
		return err
	}
	for i, op := range ops {
		if _, err := e.store.Apply(ctx, op); err != nil {
			return fmt.Errorf("rollback operation %d (%s) failed: %w", i, op.Description, err)
		}
	}
	return nil
}

// Rollback reverses a completed execution. The rule is looked up again by id
// and rollback fails when it no longer exists.
func (e *Engine) Rollback(ctx context.Context, exec model.Execution) (model.Execution, error) {
	stored, err := e.journal.Get(ctx, exec.ID)
	switch {
	case err == nil:
		exec = stored
	case !errors.Is(err, model.ErrExecutionNotFound):
		return exec, fmt.Errorf("failed to load execution %s: %w", exec.ID, err)
	}

	rule, err := e.rules.Get(exec.RuleID)
	if err != nil {
		return exec, fmt.Errorf("cannot roll back execution %s: %w", exec.ID, err)
	}
	if exec.Status != model.StatusCompleted || !exec.RollbackAvailable {
		return exec, fmt.Errorf("%w: execution %s is %s", model.ErrRollbackUnavailable, exec.ID, exec.Status)
	}

	unlock := e.lockTable(rule.Pattern.Table)
	defer unlock()

	log := e.logger.With(zap.String("ruleId", rule.ID), zap.String("executionId", exec.ID))
	log.Info("Rolling back execution", zap.String("strategy", string(rule.RollbackStrategy.Type)))

	if err := e.applyRollback(ctx, rule, &exec); err != nil {
		e.metrics.RecordRollback(rule.ID, false, err)
		return exec, &model.RollbackError{RuleID: rule.ID, ExecutionID: exec.ID, Err: err}
	}
	if err := exec.MarkRolledBack(e.now()); err != nil {
		return exec, err
	}

	if exec.BackupTable != "" && !rule.RollbackStrategy.RetainBackup {
		if err := e.store.DropBackup(ctx, exec.BackupTable); err != nil {
			log.Warn("Failed to drop backup", zap.String("backup", exec.BackupTable), zap.Error(err))
		}
	}

	if err := e.journal.Save(ctx, exec.Clone()); err != nil {
		log.Error("Failed to record rollback", zap.Error(err))
	}
	e.metrics.RecordRollback(rule.ID, false, nil)
	log.Info("Rollback completed")
	return exec.Clone(), nil
}

// Executions returns every recorded execution
func (e *Engine) Executions(ctx context.Context) ([]model.Execution, error) {
	return e.journal.List(ctx)
}

// Execution returns one recorded execution
func (e *Engine) Execution(ctx context.Context, id string) (model.Execution, error) {
	return e.journal.Get(ctx, id)
}

// lockTable serialises executions and rollbacks touching the same table
func (e *Engine) lockTable(table string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[table]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[table] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
