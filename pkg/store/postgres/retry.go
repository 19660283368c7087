package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"go.uber.org/zap"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

// SQLSTATE codes of transient failures
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

type retryPolicy struct {
	attempts int
	delay    time.Duration
}

// WithRetry sets how often read queries are retried on transient errors.
// Mutations are never retried.
func (s *Store) WithRetry(attempts int, delay time.Duration) *Store {
	if attempts < 1 {
		attempts = 1
	}
	s.retry = retryPolicy{attempts: attempts, delay: delay}
	return s
}

// isRetryable reports whether err is a transient connection or concurrency failure
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return true
	}

	switch code := pgCode(err); {
	case strings.HasPrefix(code, "08"):
		return true
	case code == codeSerializationFailure, code == codeDeadlockDetected,
		code == codeAdminShutdown, code == codeCannotConnectNow:
		return true
	case code != "":
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// withRetry runs a read, retrying transient failures with linear backoff
func (s *Store) withRetry(ctx context.Context, what string, read func() error) error {
	var err error
	for attempt := 1; attempt <= s.retry.attempts; attempt++ {
		if err = read(); err == nil || !isRetryable(err) || attempt == s.retry.attempts {
			return err
		}

		s.logger.Warn("Retrying read after transient error",
			zap.String("query", what),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * s.retry.delay):
		}
	}
	return err
}
