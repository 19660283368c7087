package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

func sampleAnalysis() model.DataStateAnalysis {
	return model.DataStateAnalysis{
		Terminology: model.TerminologyState{LegacyTerms: 4, UniversalTerms: 6, CompletionPercentage: 60},
		Metadata:    model.MetadataState{TotalRecords: 25, MissingAuxiliaries: 25},
		Structure:   model.StructureState{CompletionPercentage: 100, Defaulted: true},
		AnalyzedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func exerciseCache(t *testing.T, c AnalysisCache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, sampleAnalysis()))
	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 25, got.Metadata.MissingAuxiliaries)
	assert.True(t, got.Structure.Defaulted)
	assert.True(t, got.AnalyzedAt.Equal(sampleAnalysis().AnalyzedAt))

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func setupRedis(t *testing.T) *Redis {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("lexmigrate-test-%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, prefix+"analysis")
		client.Close()
	})
	return NewRedis(client, prefix)
}

func TestRedis(t *testing.T) {
	exerciseCache(t, setupRedis(t))
}

func TestRedisHasNoTTL(t *testing.T) {
	r := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, sampleAnalysis()))
	ttl, err := r.client.TTL(ctx, r.analysisKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestRedisDefaultPrefix(t *testing.T) {
	r := NewRedis(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "")
	assert.Equal(t, "lexmigrate:analysis", r.analysisKey())
}
