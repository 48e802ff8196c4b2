package faults

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	want := NewValidation("branch_name", "empty")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversAfterRateLimit(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return &HostAPIError{Operation: "create pr", StatusCode: 429, RateLimited: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsBoundedAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return &HostAPIError{Operation: "create pr", StatusCode: 429, RateLimited: true}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // first try plus MaxRetries
	assert.Contains(t, err.Error(), "giving up")
}

func TestRetry_HonorsRetryAfterCap(t *testing.T) {
	cfg := fastRetryConfig()
	start := time.Now()
	calls := 0
	_ = Retry(context.Background(), cfg, func() error {
		calls++
		// Hint far above MaxBackoff must be capped, or this test hangs.
		return &HostAPIError{RateLimited: true, RetryAfter: time.Hour}
	})
	assert.Equal(t, 4, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(), func() error {
		return &HostAPIError{RateLimited: true}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
