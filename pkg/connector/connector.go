// pkg/connector/connector.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/config"
)

const pingTimeout = 5 * time.Second

// Connector is a connection the CLI opens at startup and closes on exit
type Connector interface {
	Ping(ctx context.Context) error
	Close() error
}

// tunePool applies the configured pool limits; zero values keep the driver default
func tunePool(db *sql.DB, cfg *config.PostgresConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// poolFields describes the pool for a log line
func poolFields(db *sql.DB) []zap.Field {
	s := db.Stats()
	return []zap.Field{
		zap.Int("open", s.OpenConnections),
		zap.Int("inUse", s.InUse),
		zap.Int("idle", s.Idle),
		zap.Int("maxOpen", s.MaxOpenConnections),
		zap.Int64("waits", s.WaitCount),
		zap.Duration("waited", s.WaitDuration),
	}
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ping timed out after %v: %w", pingTimeout, err)
		}
		return err
	}
	return nil
}
