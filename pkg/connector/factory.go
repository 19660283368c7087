// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/config"
)

// ConnectorFactory creates the store connections named by the configuration
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePostgresConnector creates a new PostgreSQL connector
func (f *ConnectorFactory) CreatePostgresConnector(ctx context.Context) (*PostgresConnector, error) {
	f.logger.Info("Creating PostgreSQL connector")

	connector, err := NewPostgresConnector(ctx, f.cfg.Postgres, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
	}

	return connector, nil
}

// CreateRedisConnector creates a Redis connector, or returns nil when no
// Redis server is configured
func (f *ConnectorFactory) CreateRedisConnector(ctx context.Context) (*RedisConnector, error) {
	if !f.cfg.Redis.Enabled() {
		f.logger.Debug("Redis not configured, analysis cache stays in process")
		return nil, nil
	}
	f.logger.Info("Creating Redis connector")

	connector, err := NewRedisConnector(ctx, f.cfg.Redis, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis connector: %w", err)
	}

	return connector, nil
}

// CreateAllConnectors creates the PostgreSQL connector and, when configured,
// the Redis connector
func (f *ConnectorFactory) CreateAllConnectors(ctx context.Context) (*PostgresConnector, *RedisConnector, error) {
	pgConn, err := f.CreatePostgresConnector(ctx)
	if err != nil {
		return nil, nil, err
	}

	redisConn, err := f.CreateRedisConnector(ctx)
	if err != nil {
		pgConn.Close()
		return nil, nil, err
	}

	return pgConn, redisConn, nil
}
