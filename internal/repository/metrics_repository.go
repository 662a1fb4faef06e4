package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// MetricsRepository stores per-neighborhood ratio studies.
type MetricsRepository interface {
	// FindNeighborhoodMetrics returns nil, nil if no study is stored.
	FindNeighborhoodMetrics(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error)

	// UpsertNeighborhoodMetrics replaces the stored study for (code, year).
	UpsertNeighborhoodMetrics(ctx context.Context, m models.NeighborhoodMetrics) error
}

type metricsRepository struct {
	db *database.Database
}

// NewMetricsRepository creates a new instance of MetricsRepository.
func NewMetricsRepository(db *database.Database) MetricsRepository {
	return &metricsRepository{db: db}
}

func (r *metricsRepository) FindNeighborhoodMetrics(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error) {
	query := `
		SELECT neighborhood_code, year, sales_ratio, median_ratio, cod, prd, sample_size,
		       reliability, vertical_equity, dropped, trimmed, updated_at
		FROM neighborhood_metrics
		WHERE neighborhood_code = $1 AND year = $2
	`

	var m models.NeighborhoodMetrics
	err := r.db.Pool.QueryRow(ctx, query, neighborhoodCode, year).Scan(
		&m.NeighborhoodCode,
		&m.Year,
		&m.SalesRatio,
		&m.MedianRatio,
		&m.COD,
		&m.PRD,
		&m.SampleSize,
		&m.Reliability,
		&m.VerticalEquity,
		&m.Dropped,
		&m.Trimmed,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query metrics (neighborhood=%s, year=%d): %w", neighborhoodCode, year, err)
	}
	return &m, nil
}

func (r *metricsRepository) UpsertNeighborhoodMetrics(ctx context.Context, m models.NeighborhoodMetrics) error {
	query := `
		INSERT INTO neighborhood_metrics (
			neighborhood_code, year, sales_ratio, median_ratio, cod, prd, sample_size,
			reliability, vertical_equity, dropped, trimmed, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (neighborhood_code, year) DO UPDATE SET
			sales_ratio = EXCLUDED.sales_ratio,
			median_ratio = EXCLUDED.median_ratio,
			cod = EXCLUDED.cod,
			prd = EXCLUDED.prd,
			sample_size = EXCLUDED.sample_size,
			reliability = EXCLUDED.reliability,
			vertical_equity = EXCLUDED.vertical_equity,
			dropped = EXCLUDED.dropped,
			trimmed = EXCLUDED.trimmed,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		m.NeighborhoodCode, m.Year, m.SalesRatio, m.MedianRatio, m.COD, m.PRD, m.SampleSize,
		m.Reliability, m.VerticalEquity, m.Dropped, m.Trimmed, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics (neighborhood=%s, year=%d): %w", m.NeighborhoodCode, m.Year, err)
	}
	return nil
}
