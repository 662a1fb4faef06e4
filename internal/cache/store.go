// Package cache holds the comparable-search cache backends.
package cache

import (
	"context"
	"time"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// Store is a comparable-search cache. Get returns nil, nil on a miss; callers
// decide freshness from LastRefreshed. Put must replace an entry atomically.
type Store interface {
	Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error)
	Put(ctx context.Context, entry models.CacheEntry) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NopStore never hits and discards writes. Used when CACHE_BACKEND=none.
type NopStore struct{}

func (NopStore) Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	return nil, nil
}

func (NopStore) Put(ctx context.Context, entry models.CacheEntry) error {
	return nil
}

func (NopStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
