package claim

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreOption is a functional option for configuring a claim store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for claim stores.
type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	keyPrefix   string
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets how long a claim is held.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}
