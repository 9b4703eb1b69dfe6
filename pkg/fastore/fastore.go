// Package fastore is a thin wrapper over Redis exposing the atomic
// primitives the Rate Limiter needs: Incr/Decr/Get/Set on string keys.
// Grounded on neurobridge-backend's redis client construction (dial
// timeout, Ping on connect) adapted from pub/sub to counter operations.
package fastore

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store is the interface pkg/ratelimit depends on, so tests can substitute
// an in-memory fake without a live Redis instance.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetSet(ctx context.Context, key, value string) (string, bool, error)
}

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	rdb *goredis.Client
}

// New dials addr and pings it to fail fast on misconfiguration.
func New(addr string) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("fastore: redis ping: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Incr atomically increments key by 1 and returns the new value.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("fastore: incr %s: %w", key, err)
	}
	return v, nil
}

// IncrBy atomically adds delta to key and returns the new value.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("fastore: incrby %s: %w", key, err)
	}
	return v, nil
}

// Decr atomically decrements key by 1 and returns the new value. Callers
// that must never see negative counters clamp at zero themselves (the
// decrement itself is not clamped, matching a plain Redis DECR).
func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("fastore: decr %s: %w", key, err)
	}
	return v, nil
}

// Get returns the string value at key, or ("", false, nil) if absent.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fastore: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set unconditionally sets key to value with no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("fastore: set %s: %w", key, err)
	}
	return nil
}

// GetSet atomically sets key to value and returns the previous value, used
// by the Rate Limiter's day-rollover check.
func (s *RedisStore) GetSet(ctx context.Context, key, value string) (string, bool, error) {
	prev, err := s.rdb.GetSet(ctx, key, value).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fastore: getset %s: %w", key, err)
	}
	return prev, true, nil
}
