package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/soundprediction/chronograph/pkg/errkind"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// InitialDelay is the delay before the first retry (default: 1 second)
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// MaxDelay caps the delay between retries (default: 60 seconds)
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withDefaults fills zero or negative fields.
func (c *RetryConfig) withDefaults() *RetryConfig {
	if c == nil {
		return DefaultRetryConfig()
	}
	cp := *c
	if cp.MaxRetries < 0 {
		cp.MaxRetries = 0
	}
	if cp.InitialDelay <= 0 {
		cp.InitialDelay = 1 * time.Second
	}
	if cp.MaxDelay <= 0 {
		cp.MaxDelay = 60 * time.Second
	}
	if cp.BackoffMultiplier <= 0 {
		cp.BackoffMultiplier = 2.0
	}
	return &cp
}

// Delay returns the backoff before the given retry attempt (1-based):
// InitialDelay * BackoffMultiplier^(attempt-1), capped at MaxDelay.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	cfg := c.withDefaults()
	if attempt < 1 {
		return 0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// DefaultRetryable retries everything except cancellation and permanent
// error kinds. Attempt timeouts (context.DeadlineExceeded) are retried.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errkind.Retryable(err)
}

// Retry calls op until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The parent context bounds the whole loop.
func Retry(ctx context.Context, cfg *RetryConfig, retryable func(error) bool, op func(context.Context) error) error {
	cfg = cfg.withDefaults()
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.Delay(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry backoff: %w", errors.Join(ctx.Err(), lastErr))
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("context done after attempt %d: %w", attempt+1, errors.Join(ctx.Err(), err))
		}
		if !retryable(err) {
			return err
		}
	}

	if cfg.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
