package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/kv"
)

func newTestLimiter(clock *fakeClock, max int, window time.Duration) *RateLimiter {
	l := NewRateLimiter(kv.NewMemoryStore(kv.WithClock(clock.Now)), "test", config.Limit{Max: max, Window: window})
	l.now = clock.Now
	return l
}

func TestRateLimiter_Take(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Take(ctx, "k"), "request %d", i+1)
	}

	clock.Advance(20 * time.Second)
	err := l.Take(ctx, "k")
	require.ErrorIs(t, err, ErrRateLimited)

	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 40*time.Second, ae.RetryAfter)

	// Other keys are independent.
	assert.NoError(t, l.Take(ctx, "other"))
}

func TestRateLimiter_WindowBoundary(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Take(ctx, "k"))
	require.NoError(t, l.Take(ctx, "k"))

	clock.Advance(time.Minute - time.Nanosecond)
	assert.ErrorIs(t, l.Take(ctx, "k"), ErrRateLimited)

	clock.Advance(time.Nanosecond)
	assert.NoError(t, l.Take(ctx, "k"))
}

func TestRateLimiter_HitAndCheck(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 2, time.Minute)
	ctx := context.Background()

	assert.NoError(t, l.Check(ctx, "k"))
	require.NoError(t, l.Hit(ctx, "k"))
	assert.NoError(t, l.Check(ctx, "k"))
	require.NoError(t, l.Hit(ctx, "k"))
	assert.ErrorIs(t, l.Check(ctx, "k"), ErrRateLimited)

	// Hit keeps counting past the limit without rejecting.
	assert.NoError(t, l.Hit(ctx, "k"))

	require.NoError(t, l.Reset(ctx, "k"))
	assert.NoError(t, l.Check(ctx, "k"))
}
