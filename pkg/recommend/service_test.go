package recommend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/lexicon-migrate/pkg/executor"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

func TestServiceExecuteAndRollbackRefreshAnalysis(t *testing.T) {
	f := newFixture(t, testRules())
	f.seed()
	ctx := context.Background()

	before, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, before.Terminology.LegacyTerms)

	preview, err := f.service.PreviewMigration(ctx, "terms", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, preview.AffectedRows)

	exec, err := f.service.ExecuteMigration(ctx, "terms", nil, executor.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, exec.Status)

	after, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Zero(t, after.Terminology.LegacyTerms)
	assert.Equal(t, 10, after.Terminology.UniversalTerms)

	rolled, err := f.service.RollbackMigration(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRolledBack, rolled.Status)

	restored, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, restored.Terminology.LegacyTerms)
}

func TestServiceSafetyViolationLeavesDataUntouched(t *testing.T) {
	f := newFixture(t, testRules())
	f.seed()
	ctx := context.Background()

	exec, err := f.service.ExecuteMigration(ctx, "threshold", nil, executor.ExecuteOptions{})
	var violation *model.SafetyViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, model.StatusFailed, exec.Status)

	preview, err := f.service.PreviewMigration(ctx, "threshold", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.AffectedRows)
}

func TestServiceUnknownIDs(t *testing.T) {
	f := newFixture(t, testRules())
	ctx := context.Background()

	rec, err := f.service.GetRecommendationForRule(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = f.service.PreviewMigration(ctx, "missing", nil)
	assert.ErrorIs(t, err, model.ErrRuleNotFound)

	_, err = f.service.RollbackMigration(ctx, "exec-missing")
	assert.ErrorIs(t, err, model.ErrExecutionNotFound)
}

func TestServiceGetRecommendationForRule(t *testing.T) {
	f := newFixture(t, testRules())
	f.seed()

	rec, err := f.service.GetRecommendationForRule(context.Background(), "aux")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.ReadinessNeedsInput, rec.Readiness)
	assert.Contains(t, rec.Reasons, "Requires manual input: auxiliary")
}

func TestServiceClearCache(t *testing.T) {
	f := newFixture(t, testRules())
	ctx := context.Background()

	first, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Zero(t, first.Terminology.LegacyTerms)

	f.seed()
	cached, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Zero(t, cached.Terminology.LegacyTerms)

	require.NoError(t, f.service.ClearCache(ctx))
	fresh, err := f.service.AnalyzeDataState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, fresh.Terminology.LegacyTerms)
}
