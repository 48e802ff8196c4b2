package faults

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds the backoff loop in Retry.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first
	// try. Default: 3.
	MaxRetries int

	// InitialBackoff is the first wait. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including server retry-after hints.
	// Default: 30 seconds.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait between attempts. Default: 2.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default bounds.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Retry runs op with bounded exponential backoff. Non-retryable errors are
// returned immediately; rate-limit errors wait for the server hint when one
// is present (capped at MaxBackoff), otherwise for the exponential schedule.
func Retry(ctx context.Context, cfg *RetryConfig, op func() error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	cfg.ApplyDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if hint, ok := RetryAfter(lastErr); ok {
			wait = hint
		}
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if next > cfg.MaxBackoff {
			next = cfg.MaxBackoff
		}
		backoff = next
	}

	return fmt.Errorf("giving up after %d retries: %w", cfg.MaxRetries, lastErr)
}
