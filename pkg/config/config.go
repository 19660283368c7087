// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// Store connections; Postgres is nil in demo mode
	Postgres *PostgresConfig
	Redis    *RedisConfig

	// Rule catalog file or directory; empty uses the embedded defaults
	CatalogPath string

	// Engine settings
	PreviewSampleSize  int
	PreviewConcurrency int
	ExecutionTimeout   time.Duration
	Automated          bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return LoadConfig()
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CatalogPath:        getEnv("CATALOG_PATH", ""),
		PreviewSampleSize:  getEnvAsInt("PREVIEW_SAMPLE_SIZE", 10),
		PreviewConcurrency: getEnvAsInt("PREVIEW_CONCURRENCY", 4),
		ExecutionTimeout:   getEnvAsDuration("EXECUTION_TIMEOUT_SECONDS", 300*time.Second),
		Automated:          getEnvAsBool("AUTOMATED", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}

	pgConfig, err := LoadPostgresConfig()
	if err != nil {
		return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
	}
	cfg.Postgres = pgConfig
	cfg.Redis = LoadRedisConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Demo returns a configuration without external stores
func Demo() *Config {
	return &Config{
		PreviewSampleSize:  10,
		PreviewConcurrency: 4,
		ExecutionTimeout:   300 * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
	}
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Postgres == nil {
		return errors.New("postgreSQL configuration is required")
	}

	if c.PreviewSampleSize <= 0 {
		return errors.New("preview sample size must be positive")
	}

	if c.PreviewConcurrency <= 0 {
		return errors.New("preview concurrency must be positive")
	}

	if c.ExecutionTimeout <= 0 {
		return errors.New("execution timeout must be positive")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads a whole number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	seconds := getEnvAsInt(key, -1)
	if seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(getEnv(key, "")))
	if err != nil {
		return defaultValue
	}
	return value
}
