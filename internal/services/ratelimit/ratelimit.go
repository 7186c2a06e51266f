// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit implements fixed-window request limits backed by Redis
// or by the application database.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable reports that the backing store could not be reached.
var ErrUnavailable = errors.New("rate limit store unavailable")

// Decision is the result of counting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns the time until the window resets, rounded up to whole
// seconds and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.Reset.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Key derives an opaque limiter key from its parts. Addresses and emails
// do not end up in the store in clear text.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func decide(count, limit int, reset time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// RedisLimiter keeps counters in Redis with a TTL per window.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit hits per window.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow counts one hit for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed window: the TTL starts with the first hit.
	if count == 1 {
		if err := l.client.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// Counter without expiry, e.g. after a failed PExpire.
		if err := l.client.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ttl = l.window
	}

	return decide(int(count), l.limit, l.now().Add(ttl)), nil
}

// HitStore is the persistence used by SQLLimiter.
type HitStore interface {
	HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)
}

// SQLLimiter keeps counters in the rate_limits table.
type SQLLimiter struct {
	store  HitStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSQLLimiter creates a database-backed limiter.
func NewSQLLimiter(store HitStore, limit int, window time.Duration, now func() time.Time) *SQLLimiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQLLimiter{store: store, limit: limit, window: window, now: now}
}

// Allow counts one hit for key.
func (l *SQLLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, start, err := l.store.HitRateLimit(ctx, key, l.window, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decide(count, l.limit, start.Add(l.window)), nil
}
