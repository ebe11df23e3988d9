package collector

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_MinDelay(t *testing.T) {
	l := NewRateLimiter(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	l := NewRateLimiter(0)
	l.UpdateLimit(0, time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdateLimitFromHeaders(t *testing.T) {
	l := NewRateLimiter(0)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "42")
	h.Set("X-RateLimit-Reset", "1700000000")
	updateLimitFromHeaders(l, h)

	remaining, reset, err := l.CheckLimit()
	require.NoError(t, err)
	assert.Equal(t, 42, remaining)
	assert.Equal(t, int64(1700000000), reset.Unix())

	updateLimitFromHeaders(l, http.Header{})
	remaining, _, _ = l.CheckLimit()
	assert.Equal(t, 42, remaining, "missing headers leave the limiter unchanged")
}
