// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package epoch tracks the per-user token epoch. A session token is only
// valid while the epoch it carries equals the user's current epoch, so
// advancing the epoch revokes every token issued before.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Store maps user IDs to their current epoch. Epochs start at 0 and never
// decrease. Implementations are safe for concurrent use.
type Store interface {
	// Current returns the epoch of userID, 0 for users never advanced.
	Current(ctx context.Context, userID int64) (int64, error)
	// Advance increments the epoch of userID and returns the new value.
	// Concurrent callers observe distinct, strictly increasing values.
	Advance(ctx context.Context, userID int64) (int64, error)
}

// MemoryStore keeps epochs in process memory. State is lost on restart,
// which invalidates all tokens issued before.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*atomic.Int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]*atomic.Int64)}
}

func (s *MemoryStore) Current(_ context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	counter, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return counter.Load(), nil
}

func (s *MemoryStore) Advance(_ context.Context, userID int64) (int64, error) {
	return s.counter(userID).Add(1), nil
}

func (s *MemoryStore) counter(userID int64) *atomic.Int64 {
	s.mu.RLock()
	counter, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return counter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if counter, ok = s.entries[userID]; !ok {
		counter = new(atomic.Int64)
		s.entries[userID] = counter
	}
	return counter
}

// Repository is the slice of the credential store the SQL backend needs.
type Repository interface {
	CurrentEpoch(ctx context.Context, userID int64) (int64, error)
	AdvanceEpoch(ctx context.Context, userID int64) (int64, error)
}

// SQLStore keeps epochs in the token_epochs table so they survive restarts
// and are shared by every process using the same database.
type SQLStore struct {
	repo Repository
}

// NewSQLStore creates a store backed by repo.
func NewSQLStore(repo Repository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Current(ctx context.Context, userID int64) (int64, error) {
	epoch, err := s.repo.CurrentEpoch(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read epoch: %w", err)
	}
	return epoch, nil
}

func (s *SQLStore) Advance(ctx context.Context, userID int64) (int64, error) {
	epoch, err := s.repo.AdvanceEpoch(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("advance epoch: %w", err)
	}
	return epoch, nil
}

// RedisStore keeps epochs in Redis under "<prefix><userID>" using INCR,
// which is atomic on the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using client. Keys are prefixed "epoch:".
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "epoch:"}
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Current(ctx context.Context, userID int64) (int64, error) {
	epoch, err := s.client.Get(ctx, s.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read epoch: %w", err)
	}
	return epoch, nil
}

func (s *RedisStore) Advance(ctx context.Context, userID int64) (int64, error) {
	epoch, err := s.client.Incr(ctx, s.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("advance epoch: %w", err)
	}
	return epoch, nil
}
