package claim

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis SET NX with a TTL, so claims are
// shared by every relay instance pointing at the same Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a new Redis-based claim store.
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// key constructs the Redis key for a claim.
func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

var _ Store = (*RedisStore)(nil)
