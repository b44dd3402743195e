// Package ratelimit implements a Redis sorted-set sliding window limiter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows at most max events per key within a sliding window.
// Denied events are not recorded, so a client that keeps retrying regains
// access once old events leave the window.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter whose keys are stored under prefix. A non-positive
// max disables limiting.
func New(rdb redis.Cmdable, prefix string, max int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{rdb: rdb, prefix: prefix, max: max, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records an event for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.max <= 0 {
		return true, nil
	}

	k := l.prefix + key
	now := l.now()
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline (clean+count): %w", err)
	}

	count := countCmd.Val()
	if count >= int64(l.max) {
		return false, nil
	}

	pipe = l.rdb.Pipeline()
	member := fmt.Sprintf("%d:%d", now.UnixNano(), count)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, k, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline (add): %w", err)
	}

	return true, nil
}

// Usage returns the number of events currently in key's window.
func (l *Limiter) Usage(ctx context.Context, key string) (int, error) {
	now := l.now()
	lo := strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10)
	hi := strconv.FormatInt(now.UnixMilli(), 10)

	count, err := l.rdb.ZCount(ctx, l.prefix+key, lo, hi).Result()
	if err != nil {
		return 0, fmt.Errorf("getting usage: %w", err)
	}
	return int(count), nil
}
