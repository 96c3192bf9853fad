package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRetryDelayBacksOff(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	})

	assert.Equal(t, time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, p.NextRetryDelay(3))
	// Capped at max delay
	assert.Equal(t, 10*time.Second, p.NextRetryDelay(10))
}

func TestShouldRetryOnlyTransient(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	transient := &TransientError{Op: "get subscription", Err: errors.New("gateway timeout")}
	permanent := errors.New("no such subscription")

	assert.True(t, p.ShouldRetry(1, transient))
	assert.False(t, p.ShouldRetry(1, permanent))
	assert.False(t, p.ShouldRetry(1, nil))
	// Attempt budget exhausted
	assert.False(t, p.ShouldRetry(3, transient))
}

func TestDoRetriesTransientFailures(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &TransientError{Op: "op", Err: errors.New("flaky")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	calls := 0
	permanent := errors.New("invalid request")
	err := p.Do(context.Background(), func() error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContext(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      time.Hour,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func() error {
		return &TransientError{Op: "op", Err: errors.New("flaky")}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	inner := errors.New("connection reset")
	wrapped := &TransientError{Op: "get subscription", Err: inner}

	assert.True(t, IsTransient(wrapped))
	assert.True(t, IsTransient(errors.Join(errors.New("outer"), wrapped)))
	assert.False(t, IsTransient(inner))
	assert.ErrorIs(t, wrapped, inner)
}
