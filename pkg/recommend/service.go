package recommend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/executor"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Runner is the execution side of the migration engine
type Runner interface {
	Previewer
	Execute(ctx context.Context, rule model.Rule, inputs map[string]any, opts executor.ExecuteOptions) (model.Execution, error)
	Rollback(ctx context.Context, exec model.Execution) (model.Execution, error)
	Execution(ctx context.Context, id string) (model.Execution, error)
}

// Service is the admin-facing API of the migration engine
type Service struct {
	rules       Rules
	runner      Runner
	recommender *Engine
	logger      *zap.Logger
}

// NewService bundles a runner and a recommender
func NewService(rules Rules, runner Runner, recommender *Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rules: rules, runner: runner, recommender: recommender, logger: logger.Named("service")}
}

// PreviewMigration previews a catalog rule
func (s *Service) PreviewMigration(ctx context.Context, ruleID string, inputs map[string]any) (model.Preview, error) {
	rule, err := s.rules.Get(ruleID)
	if err != nil {
		return model.Preview{}, err
	}
	return s.runner.Preview(ctx, rule, inputs)
}

// ExecuteMigration runs a catalog rule. Any attempt that reached the store
// invalidates the cached analysis.
func (s *Service) ExecuteMigration(ctx context.Context, ruleID string, inputs map[string]any, opts executor.ExecuteOptions) (model.Execution, error) {
	rule, err := s.rules.Get(ruleID)
	if err != nil {
		return model.Execution{}, err
	}
	exec, err := s.runner.Execute(ctx, rule, inputs, opts)
	if exec.ID != "" {
		s.invalidate(ctx)
	}
	return exec, err
}

// RollbackMigration reverts a completed execution by id
func (s *Service) RollbackMigration(ctx context.Context, executionID string) (model.Execution, error) {
	exec, err := s.runner.Execution(ctx, executionID)
	if err != nil {
		return model.Execution{}, err
	}
	rolledBack, err := s.runner.Rollback(ctx, exec)
	if err == nil || errors.As(err, new(*model.RollbackError)) {
		s.invalidate(ctx)
	}
	return rolledBack, err
}

// GenerateRecommendations returns the ranked migration plan
func (s *Service) GenerateRecommendations(ctx context.Context) (model.MigrationAnalysis, error) {
	return s.recommender.GenerateRecommendations(ctx)
}

// AnalyzeDataState returns the current data state
func (s *Service) AnalyzeDataState(ctx context.Context) (model.DataStateAnalysis, error) {
	return s.recommender.AnalyzeDataState(ctx)
}

// GetRecommendationForRule returns nil without error when the rule is unknown
func (s *Service) GetRecommendationForRule(ctx context.Context, ruleID string) (*model.Recommendation, error) {
	rec, err := s.recommender.RecommendationForRule(ctx, ruleID)
	if errors.Is(err, model.ErrRuleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recommendation for %s: %w", ruleID, err)
	}
	return &rec, nil
}

// ClearCache drops the cached data state
func (s *Service) ClearCache(ctx context.Context) error {
	return s.recommender.ClearCache(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.recommender.ClearCache(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to invalidate analysis after data change", zap.Error(err))
	}
}
