package connector

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/config"
)

// RedisConnector owns the client behind the shared analysis cache
type RedisConnector struct {
	client *goredis.Client
	logger *zap.Logger
	cfg    *config.RedisConfig
}

var _ Connector = (*RedisConnector)(nil)

// NewRedisConnector creates a client and verifies the server answers
func NewRedisConnector(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*RedisConnector, error) {
	logger = logger.Named("redis-connector")
	logger.Info("Connecting to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := &RedisConnector{client: client, logger: logger, cfg: cfg}

	if err := c.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// Client returns the underlying client
func (c *RedisConnector) Client() *goredis.Client {
	return c.client
}

// Ping verifies the connection
func (c *RedisConnector) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", c.cfg.Addr, err)
	}
	return nil
}

// Close closes the client
func (c *RedisConnector) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.client.Close()
}
