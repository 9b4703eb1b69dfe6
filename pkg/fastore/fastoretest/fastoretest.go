// Package fastoretest provides an in-memory fastore.Store fake for tests
// that exercise pkg/ratelimit without a live Redis instance.
package fastoretest

import (
	"context"
	"strconv"
	"sync"
)

// Store is a mutex-guarded in-memory implementation of fastore.Store.
type Store struct {
	mu   sync.Mutex
	data map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := strconv.ParseInt(s.data[key], 10, 64)
	cur += delta
	s.data[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, -1)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Store) GetSet(ctx context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[key]
	s.data[key] = value
	return prev, ok, nil
}
