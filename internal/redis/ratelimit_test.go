package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestFixedWindowLimiterBlocksAfterLimit(t *testing.T) {
	_, rdb := newTestClient(t)
	limiter := NewFixedWindowLimiter(rdb, 2, time.Minute, "book")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "patient-1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, "patient-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "patient-2")
	require.NoError(t, err)
	assert.True(t, ok, "other callers have their own window")
}

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	mr, rdb := newTestClient(t)
	limiter := NewFixedWindowLimiter(rdb, 1, time.Minute, "")
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(61 * time.Second)

	ok, err = limiter.Allow(ctx, "patient-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedWindowLimiterReportsRedisErrors(t *testing.T) {
	mr, rdb := newTestClient(t)
	limiter := NewFixedWindowLimiter(rdb, 1, time.Minute, "rl")
	mr.Close()

	_, err := limiter.Allow(context.Background(), "patient-1")
	assert.Error(t, err)
}

func TestNewClientPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), Options{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
