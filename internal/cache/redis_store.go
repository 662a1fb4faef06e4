package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stwalsh4118/appraisal/internal/models"
)

const keyPrefix = "comparables:"

// RedisStore keeps comparable searches in Redis. Entries expire after the
// freshness window, so PurgeOlderThan has nothing to do.
type RedisStore struct {
	rdb goredis.Cmdable
	ttl time.Duration
}

type redisEntry struct {
	Payload       json.RawMessage `json:"payload"`
	LastRefreshed time.Time       `json:"lastRefreshed"`
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string, db int) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisStore creates a Store over rdb whose entries live for ttl.
func NewRedisStore(rdb goredis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Key returns the Redis key for a cache key.
func Key(k models.CacheKey) string {
	key := keyPrefix + k.ParcelNumber +
		":" + strconv.Itoa(k.RollYear) +
		":" + strconv.FormatFloat(k.RadiusMeters, 'f', -1, 64) +
		":" + strconv.Itoa(k.Limit)
	if k.Filters != "" {
		key += ":" + k.Filters
	}
	return key
}

func (s *RedisStore) Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	raw, err := s.rdb.Get(ctx, Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", Key(key), err)
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("bad cached payload for %s: %w", Key(key), err)
	}
	return &models.CacheEntry{Key: key, Payload: e.Payload, LastRefreshed: e.LastRefreshed}, nil
}

// Put writes the entry with a single SET, which Redis applies atomically.
func (s *RedisStore) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(redisEntry{Payload: entry.Payload, LastRefreshed: entry.LastRefreshed})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, Key(entry.Key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", Key(entry.Key), err)
	}
	return nil
}

func (s *RedisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Ping checks the Redis connection for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
