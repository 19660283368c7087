// pkg/connector/postgres.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/config"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// PostgresConnector owns the pool behind the Postgres store and journal
type PostgresConnector struct {
	db     *sqlx.DB
	logger *zap.Logger
	cfg    *config.PostgresConfig
}

var _ Connector = (*PostgresConnector)(nil)

// NewPostgresConnector opens and verifies a pgx-backed pool
func NewPostgresConnector(ctx context.Context, cfg *config.PostgresConfig, logger *zap.Logger) (*PostgresConnector, error) {
	logger = logger.Named("postgres-connector")

	logger.Info("Connecting to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("user", cfg.User))

	db, err := sql.Open("pgx", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL connection: %w", err)
	}

	tunePool(db, cfg)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	c := newPostgresConnector(sqlx.NewDb(db, "pgx"), cfg, logger)
	logger.Debug("PostgreSQL pool ready", poolFields(db)...)
	return c, nil
}

func newPostgresConnector(db *sqlx.DB, cfg *config.PostgresConfig, logger *zap.Logger) *PostgresConnector {
	return &PostgresConnector{db: db, logger: logger, cfg: cfg}
}

// DB returns the underlying pool
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// Ping verifies the connection
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return ping(ctx, c.db.DB)
}

// Validate checks the server version and that every lexicon table exists
func (c *PostgresConnector) Validate(ctx context.Context, tables []model.TableMetadata) error {
	var version string
	if err := c.db.GetContext(ctx, &version, "SELECT version()"); err != nil {
		return fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}
	c.logger.Info("Connected to PostgreSQL", zap.String("version", version))

	bySchema := make(map[string][]string)
	for _, t := range tables {
		schema := t.Schema
		if schema == "" {
			schema = "public"
		}
		bySchema[schema] = append(bySchema[schema], t.Table)
	}

	var missing []string
	for schema, names := range bySchema {
		var found []string
		err := c.db.SelectContext(ctx, &found,
			`SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = ANY($2)`,
			schema, pq.Array(names))
		if err != nil {
			return fmt.Errorf("failed to list tables in schema %s: %w", schema, err)
		}

		present := make(map[string]bool, len(found))
		for _, name := range found {
			present[name] = true
		}
		for _, name := range names {
			if !present[name] {
				missing = append(missing, schema+"."+name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("lexicon tables missing: %v", missing)
	}

	c.logger.Info("PostgreSQL connection validated",
		zap.String("database", c.cfg.Database),
		zap.String("host", c.cfg.Host),
		zap.Int("tables", len(tables)))
	return nil
}

// Close closes the database connection
func (c *PostgresConnector) Close() error {
	c.logger.Info("Closing PostgreSQL connection", poolFields(c.db.DB)...)
	return c.db.Close()
}
