package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// CacheRepository stores comparable searches in the comparable_cache table,
// keyed by (parcel_number, roll_year, radius_meters, result_limit, filters).
type CacheRepository struct {
	db *database.Database
}

// NewCacheRepository creates a PostgreSQL-backed comparable-search cache.
// It satisfies cache.Store.
func NewCacheRepository(db *database.Database) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns nil, nil on a miss. Freshness is judged by the caller.
func (r *CacheRepository) Get(ctx context.Context, key models.CacheKey) (*models.CacheEntry, error) {
	query := `
		SELECT payload, last_refreshed
		FROM comparable_cache
		WHERE parcel_number = $1 AND roll_year = $2 AND radius_meters = $3 AND result_limit = $4
		  AND filters = $5
	`

	entry := models.CacheEntry{Key: key}
	err := r.db.Pool.QueryRow(ctx, query, key.ParcelNumber, key.RollYear, key.RadiusMeters, key.Limit, key.Filters).
		Scan(&entry.Payload, &entry.LastRefreshed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read comparable cache for %s: %w", key.ParcelNumber, err)
	}
	return &entry, nil
}

// Put upserts one entry in a single statement so readers never see a
// partially written row.
func (r *CacheRepository) Put(ctx context.Context, entry models.CacheEntry) error {
	query := `
		INSERT INTO comparable_cache (parcel_number, roll_year, radius_meters, result_limit, filters, payload, last_refreshed)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (parcel_number, roll_year, radius_meters, result_limit, filters) DO UPDATE SET
			payload = EXCLUDED.payload,
			last_refreshed = EXCLUDED.last_refreshed
	`

	k := entry.Key
	_, err := r.db.Pool.Exec(ctx, query, k.ParcelNumber, k.RollYear, k.RadiusMeters, k.Limit, k.Filters,
		string(entry.Payload), entry.LastRefreshed)
	if err != nil {
		return fmt.Errorf("failed to write comparable cache for %s: %w", k.ParcelNumber, err)
	}
	return nil
}

// PurgeOlderThan deletes entries last refreshed before cutoff.
func (r *CacheRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM comparable_cache WHERE last_refreshed < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge comparable cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
