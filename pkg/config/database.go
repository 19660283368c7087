// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration

	// Read retries on transient errors
	RetryAttempts int
	RetryDelay    time.Duration
}

// RedisConfig holds the shared analysis cache settings. An empty Addr keeps
// the cache in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether a Redis server is configured
func (c *RedisConfig) Enabled() bool {
	return c != nil && c.Addr != ""
}

// LoadPostgresConfig loads PostgreSQL configuration from environment variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return nil, errors.New("POSTGRES_USER environment variable is required")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
	}

	database := os.Getenv("POSTGRES_DB")
	if database == "" {
		return nil, errors.New("POSTGRES_DB environment variable is required")
	}

	cfg := &PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     getEnvAsInt("POSTGRES_PORT", 5432),
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  getEnv("POSTGRES_SSLMODE", "require"),

		MaxOpenConns:     getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 1800*time.Second),
		ConnMaxIdleTime:  getEnvAsDuration("POSTGRES_CONN_MAX_IDLE_TIME_SECONDS", 600*time.Second),
		StatementTimeout: getEnvAsDuration("POSTGRES_STATEMENT_TIMEOUT_SECONDS", 60*time.Second),

		RetryAttempts: getEnvAsInt("POSTGRES_RETRY_ATTEMPTS", 3),
		RetryDelay:    time.Duration(getEnvAsInt("POSTGRES_RETRY_DELAY_MS", 200)) * time.Millisecond,
	}

	return cfg, nil
}

// LoadRedisConfig loads the optional Redis configuration
func LoadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      getEnv("REDIS_ADDR", ""),
		Password:  getEnv("REDIS_PASSWORD", ""),
		DB:        getEnvAsInt("REDIS_DB", 0),
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", "lexmigrate:"),
	}
}

// ConnectionString returns a formatted PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)

	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.StatementTimeout.Milliseconds())
	}

	return dsn
}
