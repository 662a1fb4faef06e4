package cache

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stwalsh4118/appraisal/internal/config"
)

// Backend is the cache selected by configuration.
type Backend struct {
	Store Store
	// Redis is set only for the redis backend.
	Redis *RedisStore

	client *goredis.Client
}

// Open selects the backend named by cfg.Backend. postgres is the store used
// for the postgres backend; the database pool owns its lifetime.
func Open(ctx context.Context, cfg config.CacheConfig, postgres Store) (*Backend, error) {
	switch cfg.Backend {
	case config.CacheBackendPostgres:
		if postgres == nil {
			return nil, fmt.Errorf("postgres cache backend needs a database store")
		}
		return &Backend{Store: postgres}, nil
	case config.CacheBackendRedis:
		rdb, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		rs := NewRedisStore(rdb, cfg.Freshness)
		return &Backend{Store: rs, Redis: rs, client: rdb}, nil
	case config.CacheBackendNone:
		return &Backend{Store: NopStore{}}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Close releases the Redis connection, if any.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
