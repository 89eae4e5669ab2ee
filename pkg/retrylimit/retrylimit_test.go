package retrylimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return "status" }
func (s statusErr) StatusCode() int { return int(s) }

func TestFixedStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Fixed(context.Background(), 3, time.Millisecond, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFixedGivesUp(t *testing.T) {
	cause := errors.New("down")
	calls := 0
	err := Fixed(context.Background(), 3, time.Millisecond, func(int) error {
		calls++
		return cause
	})
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestFixedHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Fixed(ctx, 3, time.Second, func(int) error { return nil })
	require.Error(t, err)
}

func TestFatalStopsRetry(t *testing.T) {
	calls := 0
	err := Fixed(context.Background(), 5, time.Millisecond, func(int) error {
		calls++
		return &FatalError{Err: errors.New("no")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAdaptiveLimiterBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 8, 1, 0.5)
	lim.RateLimited()
	assert.Equal(t, 2.0, lim.CurrentLimit())
	lim.RateLimited()
	lim.RateLimited()
	assert.Equal(t, 1.0, lim.CurrentLimit())
}

func TestWithRetryClassifiesStatus(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.MaxAttempts = 3

	calls := 0
	err := WithRetryConfig(context.Background(), func() error {
		calls++
		if calls == 1 {
			return statusErr(429)
		}
		if calls == 2 {
			return statusErr(502)
		}
		return nil
	}, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, isRateLimitError(statusErr(429)))
	assert.True(t, isServerError(statusErr(503)))
	assert.False(t, isServerError(statusErr(404)))
}
