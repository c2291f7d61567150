// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/internal/services/ratelimit"
	"github.com/taskdeck/taskdeck/internal/testutil"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type limiterFactory func(t *testing.T, rule ratelimit.Rule, clock *testutil.Clock) ratelimit.Limiter

func factories() map[string]limiterFactory {
	return map[string]limiterFactory{
		"memory": func(t *testing.T, rule ratelimit.Rule, clock *testutil.Clock) ratelimit.Limiter {
			l, err := ratelimit.NewMemoryLimiter(rule, clock.Now)
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = l.Close()
			})
			return l
		},
		"redis": func(t *testing.T, rule ratelimit.Rule, clock *testutil.Clock) ratelimit.Limiter {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() {
				_ = client.Close()
			})
			l, err := ratelimit.NewRedisLimiter(client, rule, clock.Now)
			require.NoError(t, err)
			return l
		},
	}
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewClock(start)
			l := factory(t, ratelimit.Rule{Limit: 3, Window: time.Minute}, clock)
			ctx := context.Background()

			for i := range 3 {
				d, err := l.Allow(ctx, "resend:ann@example.com")
				require.NoError(t, err)
				assert.True(t, d.Allowed, "request %d", i+1)
				clock.Advance(time.Second)
			}

			d, err := l.Allow(ctx, "resend:ann@example.com")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			// First hit at start, now is start+3s.
			assert.Equal(t, 57*time.Second, d.RetryAfter)
		})
	}
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewClock(start)
			l := factory(t, ratelimit.Rule{Limit: 2, Window: time.Minute}, clock)
			ctx := context.Background()

			for range 2 {
				d, err := l.Allow(ctx, "k")
				require.NoError(t, err)
				require.True(t, d.Allowed)
			}

			clock.Advance(59 * time.Second)
			d, err := l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, time.Second, d.RetryAfter)

			clock.Advance(time.Second)
			d, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "hits older than the window no longer count")
		})
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewClock(start)
			l := factory(t, ratelimit.Rule{Limit: 1, Window: time.Minute}, clock)
			ctx := context.Background()

			d, err := l.Allow(ctx, "a")
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			d, err = l.Allow(ctx, "b")
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			d, err = l.Allow(ctx, "a")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
		})
	}
}

func TestLimiter_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewClock(start)
			l := factory(t, ratelimit.Rule{Limit: 5, Window: time.Minute}, clock)

			var allowed atomic.Int32
			var wg sync.WaitGroup
			for range 40 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Allow(context.Background(), "burst")
					assert.NoError(t, err)
					if d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(5), allowed.Load())
		})
	}
}

func TestNewLimiter_InvalidRule(t *testing.T) {
	_, err := ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: 0, Window: time.Minute}, nil)
	assert.Error(t, err)

	_, err = ratelimit.NewRedisLimiter(nil, ratelimit.Rule{Limit: 1}, nil)
	assert.Error(t, err)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
	})
	l, err := ratelimit.NewRedisLimiter(client, ratelimit.Rule{Limit: 1, Window: time.Minute}, nil)
	require.NoError(t, err)
	mr.Close()

	_, err = l.Allow(context.Background(), "k")

	assert.Error(t, err)
}
