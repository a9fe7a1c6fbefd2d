package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "payment:idempotency:"

// RedisCommands is the minimal client surface used by RedisStore.
type RedisCommands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps idempotency outcomes in Redis with a TTL.
type RedisStore struct {
	client RedisCommands
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed store. A non-positive ttl
// falls back to DefaultTTL.
func NewRedisStore(client RedisCommands, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) HasProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) RecordProcessed(ctx context.Context, key, outcome string) error {
	return s.client.Set(ctx, redisKeyPrefix+key, outcome, s.ttl).Err()
}

func (s *RedisStore) Outcome(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}
