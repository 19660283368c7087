// Package analyzer measures the four data-quality dimensions of the lexicon:
// terminology, metadata, cleanup and structure.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/lexicon-migrate/pkg/cache"
	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

const (
	// ProcOrphanedRecords lists records whose parent no longer exists
	ProcOrphanedRecords = "check_orphaned_records"
	// ProcMissingRelationships lists records lacking a required relationship
	ProcMissingRelationships = "check_missing_relationships"
)

// Analyzer computes DataStateAnalysis snapshots
type Analyzer struct {
	store  store.Store
	vocab  lexicon.Vocabulary
	cache  cache.AnalysisCache
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Analyzer. A nil cache means an in-process cache.
func New(st store.Store, vocab lexicon.Vocabulary, c cache.AnalysisCache, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Analyzer{
		store:  st,
		vocab:  vocab,
		cache:  c,
		logger: logger.Named("analyzer"),
		now:    time.Now,
	}
}

// Analyze returns the cached analysis, computing and caching it on a miss
func (a *Analyzer) Analyze(ctx context.Context) (model.DataStateAnalysis, error) {
	cached, ok, err := a.cache.Get(ctx)
	if err != nil {
		a.logger.Warn("Analysis cache unavailable, analyzing fresh", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	analysis, err := a.Fresh(ctx)
	if err != nil {
		return model.DataStateAnalysis{}, err
	}
	if err := a.cache.Set(ctx, analysis); err != nil {
		a.logger.Warn("Failed to cache analysis", zap.Error(err))
	}
	return analysis, nil
}

// Invalidate drops the cached analysis
func (a *Analyzer) Invalidate(ctx context.Context) error {
	return a.cache.Invalidate(ctx)
}

// Fresh runs the four analyses concurrently, bypassing the cache. A failing
// analysis degrades to its healthy default; only cancellation is an error.
func (a *Analyzer) Fresh(ctx context.Context) (model.DataStateAnalysis, error) {
	start := a.now()
	var analysis model.DataStateAnalysis

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		analysis.Terminology = a.terminology(gctx)
		return gctx.Err()
	})
	g.Go(func() error {
		analysis.Metadata = a.metadata(gctx)
		return gctx.Err()
	})
	g.Go(func() error {
		analysis.Cleanup = a.cleanup(gctx)
		return gctx.Err()
	})
	g.Go(func() error {
		analysis.Structure = a.structure(gctx)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return model.DataStateAnalysis{}, fmt.Errorf("data state analysis interrupted: %w", err)
	}

	analysis.AnalyzedAt = a.now()
	a.logger.Info("Analyzed data state",
		zap.Int("terminology", analysis.Terminology.CompletionPercentage),
		zap.Int("metadata", analysis.Metadata.CompletionPercentage),
		zap.Int("cleanup", analysis.Cleanup.CompletionPercentage),
		zap.Int("structure", analysis.Structure.CompletionPercentage),
		zap.Duration("duration", analysis.AnalyzedAt.Sub(start)))
	return analysis, nil
}

func (a *Analyzer) degraded(dimension string, err error) {
	a.logger.Warn("Analysis failed, assuming healthy",
		zap.String("dimension", dimension), zap.Error(err))
}

func (a *Analyzer) terminology(ctx context.Context) model.TerminologyState {
	table, col := a.vocab.TerminologyTable, lexicon.ColumnTags
	legacy := store.Condition{Column: col, Op: store.OpArrayOverlaps, Values: store.Strings(a.vocab.Legacy())}
	universal := store.Condition{Column: col, Op: store.OpArrayOverlaps, Values: store.Strings(a.vocab.Universal())}

	var s model.TerminologyState
	var err error
	if s.LegacyTerms, err = a.store.Count(ctx, store.Filter{Table: table}.Where(legacy)); err == nil {
		if s.UniversalTerms, err = a.store.Count(ctx, store.Filter{Table: table}.Where(universal)); err == nil {
			s.MixedUsage, err = a.store.Count(ctx, store.Filter{Table: table}.Where(legacy).Where(universal))
		}
	}
	if err != nil {
		a.degraded("terminology", err)
		return model.TerminologyState{CompletionPercentage: 100, Defaulted: true}
	}

	s.CompletionPercentage = percent(s.UniversalTerms, s.LegacyTerms+s.UniversalTerms-s.MixedUsage)
	return s
}

func (a *Analyzer) metadata(ctx context.Context) model.MetadataState {
	table, col := a.vocab.MetadataTable, lexicon.ColumnContextMetadata
	missing := func(key string) store.Filter {
		return store.Filter{Table: table}.Where(store.Condition{Column: col, Op: store.OpJSONKeyMissing, Key: key})
	}

	var s model.MetadataState
	var err error
	if s.TotalRecords, err = a.store.Count(ctx, store.Filter{Table: table}); err == nil {
		if s.MissingAuxiliaries, err = a.store.Count(ctx, missing(lexicon.KeyAuxiliary)); err == nil {
			s.MissingTransitivity, err = a.store.Count(ctx, missing(lexicon.KeyTransitivity))
		}
	}
	if err != nil {
		a.degraded("metadata", err)
		return model.MetadataState{CompletionPercentage: 100, Defaulted: true}
	}

	worst := max(s.MissingAuxiliaries, s.MissingTransitivity)
	s.CompletionPercentage = percent(s.TotalRecords-worst, s.TotalRecords)
	return s
}

func (a *Analyzer) cleanup(ctx context.Context) model.CleanupState {
	table, col := a.vocab.CleanupTable, lexicon.ColumnTags
	overlapping := func(values []string) store.Filter {
		return store.Filter{Table: table}.Where(store.Condition{Column: col, Op: store.OpArrayOverlaps, Values: store.Strings(values)})
	}

	var s model.CleanupState
	var err error
	if s.TotalRecords, err = a.store.Count(ctx, store.Filter{Table: table}); err == nil {
		if s.DeprecatedTags, err = a.store.Count(ctx, overlapping(a.vocab.Deprecated())); err == nil {
			s.InconsistentFormatting, err = a.store.Count(ctx, overlapping(a.vocab.Variants()))
		}
	}
	if err != nil {
		a.degraded("cleanup", err)
		return model.CleanupState{CompletionPercentage: 100, Defaulted: true}
	}

	clean := max(0, s.TotalRecords-s.DeprecatedTags-s.InconsistentFormatting)
	s.CompletionPercentage = percent(clean, s.TotalRecords)
	return s
}

// structure relies on store-side integrity procedures. Without them the
// lexicon is reported as fully healthy.
func (a *Analyzer) structure(ctx context.Context) model.StructureState {
	var s model.StructureState
	var err error
	if s.OrphanedRecords, err = a.procedureCount(ctx, ProcOrphanedRecords); err == nil {
		s.MissingRelationships, err = a.procedureCount(ctx, ProcMissingRelationships)
	}
	if err != nil {
		if !errors.Is(err, store.ErrProcedureUnavailable) {
			a.degraded("structure", err)
		} else {
			a.logger.Debug("Integrity procedures unavailable, assuming healthy structure")
		}
		return model.StructureState{CompletionPercentage: 100, Defaulted: true}
	}

	issues := s.OrphanedRecords + s.MissingRelationships
	if issues == 0 {
		s.CompletionPercentage = 100
		return s
	}

	total := 0
	for _, t := range lexicon.Tables() {
		n, err := a.store.Count(ctx, store.Filter{Table: t.Table})
		if err != nil {
			a.degraded("structure", err)
			return model.StructureState{CompletionPercentage: 100, Defaulted: true}
		}
		total += n
	}
	s.CompletionPercentage = percent(max(0, total-issues), total)
	return s
}

// procedureCount reads a single-row {count} result or counts the returned rows
func (a *Analyzer) procedureCount(ctx context.Context, name string) (int, error) {
	rows, err := a.store.CallProcedure(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(rows) == 1 {
		if v, ok := rows[0]["count"]; ok {
			switch n := v.(type) {
			case int:
				return n, nil
			case int32:
				return int(n), nil
			case int64:
				return int(n), nil
			case float64:
				return int(n), nil
			}
		}
	}
	return len(rows), nil
}

// percent returns part/total as a rounded percentage; an empty total is complete
func percent(part, total int) int {
	if total <= 0 {
		if part < 0 {
			return 0
		}
		return 100
	}
	p := int(math.Round(float64(part) * 100 / float64(total)))
	return min(100, max(0, p))
}
