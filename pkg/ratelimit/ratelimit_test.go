package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_AllowAndEvict(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)
	clock := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	sw.now = func() time.Time { return clock }

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow(), "窗口已满")
	assert.Equal(t, 0, sw.GetRemaining())

	clock = clock.Add(time.Minute + time.Millisecond)
	assert.Equal(t, 2, sw.GetRemaining())
	assert.True(t, sw.Allow())
}

func TestSlidingWindow_WaitHonorsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sw.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_FallbackAndRegistered(t *testing.T) {
	fallback := NewSlidingWindow(1, time.Hour)
	orders := NewSlidingWindow(5, time.Hour)
	m := NewManager(fallback)
	m.Register("orders:post", orders)

	assert.Same(t, orders, m.GetLimiter("orders:post"))
	assert.Same(t, fallback, m.GetLimiter("account:get"))
	require.NoError(t, m.Wait(context.Background(), "account:get"))
	assert.Equal(t, 0, fallback.GetRemaining())
}
