package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

const defaultPrefix = "lexmigrate:"

// Redis is an AnalysisCache shared by every process using the same key prefix
type Redis struct {
	client *goredis.Client
	prefix string
}

// NewRedis creates a Redis cache from an existing client
func NewRedis(client *goredis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) analysisKey() string {
	return r.prefix + "analysis"
}

// Ping checks connectivity to the Redis server
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get returns the cached analysis
func (r *Redis) Get(ctx context.Context) (model.DataStateAnalysis, bool, error) {
	data, err := r.client.Get(ctx, r.analysisKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return model.DataStateAnalysis{}, false, nil
	}
	if err != nil {
		return model.DataStateAnalysis{}, false, fmt.Errorf("reading cached analysis: %w", err)
	}

	var analysis model.DataStateAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return model.DataStateAnalysis{}, false, fmt.Errorf("decoding cached analysis: %w", err)
	}
	return analysis, true, nil
}

// Set stores the analysis without expiry
func (r *Redis) Set(ctx context.Context, analysis model.DataStateAnalysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshaling analysis: %w", err)
	}
	return r.client.Set(ctx, r.analysisKey(), data, 0).Err()
}

// Invalidate deletes the cached analysis
func (r *Redis) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, r.analysisKey()).Err()
}
