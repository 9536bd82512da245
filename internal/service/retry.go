package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"shelfshare-backend/internal/repository"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	onRetry      func(attempt int, err error)
}

// RetryOption configures RetryWithBackoff.
type RetryOption func(*retryConfig) error

func WithMaxAttempts(attempts int) RetryOption {
	return func(c *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the first backoff delay. Later delays double it.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(c *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = delay
		return nil
	}
}

// WithJitterFactor adds up to factor*delay of random extra wait. Valid range 0.0 to 1.0.
func WithJitterFactor(factor float64) RetryOption {
	return func(c *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}
		c.jitterFactor = factor
		return nil
	}
}

// WithOnRetry registers a hook called before each repeated attempt.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(c *retryConfig) error {
		c.onRetry = fn
		return nil
	}
}

// RetryWithBackoff runs fn until it succeeds, fails with an error other than
// repository.ErrConcurrencyConflict, or runs out of attempts. On exhaustion the
// last conflict is returned.
//
// Default schedule: 0, 10, 20, 40, 80, 160 ms plus up to 30% jitter.
func RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, options ...RetryOption) error {
	cfg := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			if cfg.onRetry != nil {
				cfg.onRetry(attempt, lastErr)
			}
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Float64() * float64(delay) * cfg.jitterFactor)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, repository.ErrConcurrencyConflict) {
			return lastErr
		}
	}
	return lastErr
}
