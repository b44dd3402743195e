package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, max int, window time.Duration) (*Limiter, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(client, "test:", max, window, WithClock(c.now)), c, mr
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	l, _, _ := setup(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "event %d", i+1)
	}

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := l.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, usage)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _, _ := setup(t, 1, time.Minute)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, c, _ := setup(t, 2, time.Minute)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "alice")
	c.advance(30 * time.Second)
	_, _ = l.Allow(ctx, "alice")

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// The first event leaves the window.
	c.advance(31 * time.Second)
	ok, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_DeniedEventsNotRecorded(t *testing.T) {
	l, _, _ := setup(t, 1, time.Minute)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "alice")
	for i := 0; i < 5; i++ {
		_, _ = l.Allow(ctx, "alice")
	}

	usage, err := l.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, usage)
}

func TestLimiter_SetsTTL(t *testing.T) {
	l, _, mr := setup(t, 5, time.Minute)

	_, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, time.Minute+time.Second, mr.TTL("test:alice"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(nil, "x:", 0, time.Minute)

	ok, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_RedisError(t *testing.T) {
	l, _, mr := setup(t, 5, time.Minute)
	mr.Close()

	_, err := l.Allow(context.Background(), "alice")
	assert.Error(t, err)
}
