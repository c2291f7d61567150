// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit implements sliding-window request limits keyed by an
// arbitrary string.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the next request would be allowed. Zero
	// when Allowed is true.
	RetryAfter time.Duration
}

// Limiter admits at most Limit requests per key within any Window.
// Rejected requests are not counted.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Rule is a request budget.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) validate() error {
	if r.Limit < 1 || r.Window <= 0 {
		return fmt.Errorf("invalid rate limit rule %d/%s", r.Limit, r.Window)
	}
	return nil
}

// MemoryLimiter keeps request timestamps in process memory.
type MemoryLimiter struct { //nolint:govet // fieldalignment not critical
	rule Rule
	now  func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter and starts a janitor that drops idle
// keys. Call Close to stop it.
func NewMemoryLimiter(rule Rule, now func() time.Time) (*MemoryLimiter, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{
		rule: rule,
		now:  now,
		hits: make(map[string][]time.Time),
		stop: make(chan struct{}),
	}
	go l.cleanup()
	return l, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.hits[key], now, l.rule.Window)
	if len(hits) >= l.rule.Limit {
		l.hits[key] = hits
		return Decision{RetryAfter: hits[0].Add(l.rule.Window).Sub(now)}, nil
	}

	l.hits[key] = append(hits, now)
	return Decision{Allowed: true}, nil
}

// Close stops the janitor.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// prune drops timestamps that have left the window ending at now.
func prune(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= window {
		i++
	}
	return hits[i:]
}

func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, hits := range l.hits {
		if hits = prune(hits, now, l.rule.Window); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
}

// slidingWindow trims the sorted set to the window, then admits the request
// when the remaining count is below the limit. Returns {allowed, retry_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2]) + window - now}
`)

// RedisLimiter keeps request timestamps in a Redis sorted set per key, so
// the budget is shared by every process using the same Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	rule   Rule
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing state under "ratelimit:<key>".
func NewRedisLimiter(client redis.UniversalClient, rule Rule, now func() time.Time) (*RedisLimiter, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, rule: rule, prefix: "ratelimit:", now: now}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := slidingWindow.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.now().UnixMilli(), l.rule.Window.Milliseconds(), l.rule.Limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, errors.New("rate limit script: unexpected reply")
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

// Close is a no-op. The Redis client is owned by the caller.
func (l *RedisLimiter) Close() error {
	return nil
}
