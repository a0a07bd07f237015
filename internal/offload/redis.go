package offload

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "quasar:offload:"

// Offloaded bodies are transient hand-offs between two invocations; a day is
// far beyond any invocation's lifetime.
const redisTTL = 24 * time.Hour

// RedisStore keeps offloaded bodies in Redis. Meant for local and dev
// deployments where S3 is not available but payloads still need to round-trip.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a store over an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, redisTTL).Err(); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
