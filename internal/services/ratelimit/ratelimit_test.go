// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"codeberg.org/oliverandrich/memberdir/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*ratelimit.RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewRedisLimiter(client, "test:", limit, window), mr
}

func TestKey(t *testing.T) {
	key := ratelimit.Key("10.0.0.1", "jane@x.com")

	assert.Len(t, key, 64)
	assert.Equal(t, key, ratelimit.Key("10.0.0.1", "jane@x.com"))
	assert.NotEqual(t, key, ratelimit.Key("10.0.0.1", "john@x.com"))
	assert.NotEqual(t, ratelimit.Key("a", "bc"), ratelimit.Key("ab", "c"))
	assert.NotContains(t, key, "jane")
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Now()

	d := ratelimit.Decision{Reset: now.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, d.RetryAfter(now))

	past := ratelimit.Decision{Reset: now.Add(-time.Second)}
	assert.Equal(t, time.Second, past.RetryAfter(now))
}

func TestRedisLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Hour), d.Reset, 5*time.Second)
}

func TestRedisLimiter_WindowResets(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 1, time.Hour)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	d, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	mr.FastForward(time.Hour)

	d, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 1, time.Hour)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "a")
	require.NoError(t, err)
	d, err := limiter.Allow(ctx, "b")
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists("test:a"))
}

func TestRedisLimiter_RepairsMissingTTL(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 5, time.Minute)
	require.NoError(t, mr.Set("test:k", "2"))

	d, err := limiter.Allow(context.Background(), "k")
	require.NoError(t, err)

	assert.Equal(t, 2, d.Remaining)
	assert.Positive(t, mr.TTL("test:k"))
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 1, time.Hour)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "k")

	assert.ErrorIs(t, err, ratelimit.ErrUnavailable)
}

func TestSQLLimiter(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewSQLLimiter(repo, 2, time.Hour, clock.Now)
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), d.Reset)

	clock.Advance(10 * time.Minute)
	_, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	d, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, clock.Now().Add(50*time.Minute), d.Reset)

	clock.Advance(50 * time.Minute)
	d, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}
