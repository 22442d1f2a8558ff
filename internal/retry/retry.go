package retry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/ch2migrate/internal/common"
)

// Config holds configuration for ledger write retries. Schema stages never
// go through this package: a failed stage is reported, not repeated.
type Config struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialDelay    time.Duration // Initial delay before first retry
	MaxDelay        time.Duration // Maximum delay between retries
	BackoffFactor   float64       // Multiplier for exponential backoff
	RetryableErrors []string      // Error substrings that trigger retries
}

// DefaultRetryConfig returns the configuration used for ledger writes.
// Only lock contention is worth waiting out on a local SQLite file.
func DefaultRetryConfig() *Config {
	return &Config{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"database is locked",
			"database table is locked",
			"sqlite_busy",
			"sqlite_locked",
		},
	}
}

// IsRetryable reports whether err should trigger another attempt.
func (rc *Config) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, retryableErr := range rc.RetryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}
	return false
}

// delay returns the wait before retry number attempt (1-based).
func (rc *Config) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return rc.InitialDelay
	}
	d := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt-1)))
	if d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	return d
}

// Operation is a unit of work that may be repeated.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up.
func Do(ctx context.Context, config *Config, op Operation) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	logger := common.GetLogger().WithComponent("ledger-retry")

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("ledger write succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}
		if !config.IsRetryable(err) {
			return err
		}

		d := config.delay(attempt + 1)
		logger.Warn("ledger write failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", config.MaxRetries+1,
			"retry_delay", d)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-time.After(d):
		}
	}

	logger.Error("ledger write failed after all retry attempts",
		"error", lastErr,
		"attempts", config.MaxRetries+1)

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// Exec runs an exec statement through Do.
func Exec(ctx context.Context, config *Config, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := Do(ctx, config, func(ctx context.Context) error {
		var err error
		result, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}
