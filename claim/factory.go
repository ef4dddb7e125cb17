package claim

import (
	"errors"
	"time"
)

// StoreType represents the type of claim store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const (
	defaultTTL       = 30 * 24 * time.Hour
	defaultKeyPrefix = "intake:claim:"
)

// Errors returned by NewStore.
var (
	ErrInvalidConfig    = errors.New("invalid claim store configuration")
	ErrInvalidStoreType = errors.New("invalid claim store type")
)

// NewStore creates a new Store based on the given type.
// Supports "memory" and "redis" driver types.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.ttl <= 0 {
		config.ttl = defaultTTL
	}
	if config.keyPrefix == "" {
		config.keyPrefix = defaultKeyPrefix
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(config.ttl), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, config.ttl, config.keyPrefix), nil

	default:
		return nil, ErrInvalidStoreType
	}
}
