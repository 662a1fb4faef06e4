package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// CoefficientRepository reads and writes versioned adjustment model runs.
// Coefficient and segment rows are append-only; a run is only ever inserted
// or deleted as a whole.
type CoefficientRepository interface {
	// LatestRunID returns the most recently created run that has coefficients
	// for the market group, or "" if there is none.
	LatestRunID(ctx context.Context, marketGroup string) (string, error)

	// FindCoefficients returns the terms of one (market group, value tier, run).
	// Returns an empty slice if none exist.
	FindCoefficients(ctx context.Context, marketGroup, valueTier, runID string) ([]models.AdjustmentCoefficient, error)

	// FindSegments returns the fitted segments of a market group within a run.
	FindSegments(ctx context.Context, marketGroup, runID string) ([]models.AdjustmentModelSegment, error)

	// SaveRun writes coefficients, segments and the run summary in one transaction.
	SaveRun(ctx context.Context, run models.AdjustmentRun) error

	// DeleteRun removes every row of a run in one transaction and returns the
	// number of coefficient rows deleted.
	DeleteRun(ctx context.Context, runID string) (int64, error)

	// ListRuns returns stored runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error)

	// RunSummary returns the stored diagnostics document of a run, or nil if
	// the run does not exist.
	RunSummary(ctx context.Context, runID string) ([]byte, error)
}

type coefficientRepository struct {
	db *database.Database
}

// NewCoefficientRepository creates a new instance of CoefficientRepository.
func NewCoefficientRepository(db *database.Database) CoefficientRepository {
	return &coefficientRepository{db: db}
}

func (r *coefficientRepository) LatestRunID(ctx context.Context, marketGroup string) (string, error) {
	query := `
		SELECT run_id
		FROM adjustment_coefficients
		WHERE market_group = $1
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1
	`

	var runID string
	err := r.db.Pool.QueryRow(ctx, query, marketGroup).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query latest run for %s: %w", marketGroup, err)
	}
	return runID, nil
}

func (r *coefficientRepository) FindCoefficients(ctx context.Context, marketGroup, valueTier, runID string) ([]models.AdjustmentCoefficient, error) {
	query := `
		SELECT market_group, value_tier, term, beta, std_err, run_id, created_at
		FROM adjustment_coefficients
		WHERE market_group = $1 AND value_tier = $2 AND run_id = $3
		ORDER BY term
	`

	rows, err := r.db.Pool.Query(ctx, query, marketGroup, valueTier, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coefficients (market_group=%s, value_tier=%s, run_id=%s): %w",
			marketGroup, valueTier, runID, err)
	}

	coefs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AdjustmentCoefficient, error) {
		var c models.AdjustmentCoefficient
		err := row.Scan(&c.MarketGroup, &c.ValueTier, &c.Term, &c.Beta, &c.StdErr, &c.RunID, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan coefficient rows: %w", err)
	}
	return coefs, nil
}

func (r *coefficientRepository) FindSegments(ctx context.Context, marketGroup, runID string) ([]models.AdjustmentModelSegment, error) {
	query := `
		SELECT run_id, market_group, value_tier, n, r2, cod, prd, median_ratio,
		       predictors, price_min, price_max, created_at
		FROM adjustment_model_segments
		WHERE market_group = $1 AND run_id = $2
		ORDER BY price_min, value_tier
	`

	rows, err := r.db.Pool.Query(ctx, query, marketGroup, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments (market_group=%s, run_id=%s): %w", marketGroup, runID, err)
	}

	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AdjustmentModelSegment, error) {
		var s models.AdjustmentModelSegment
		err := row.Scan(&s.RunID, &s.MarketGroup, &s.ValueTier, &s.N, &s.R2, &s.COD, &s.PRD, &s.MedianRatio,
			&s.Predictors, &s.PriceMin, &s.PriceMax, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan segment rows: %w", err)
	}
	return segs, nil
}

func (r *coefficientRepository) SaveRun(ctx context.Context, run models.AdjustmentRun) error {
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		coefRows := make([][]any, len(run.Coefficients))
		for i, c := range run.Coefficients {
			coefRows[i] = []any{c.MarketGroup, c.ValueTier, c.Term, c.Beta, c.StdErr, run.RunID, run.CreatedAt}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"adjustment_coefficients"},
			[]string{"market_group", "value_tier", "term", "beta", "std_err", "run_id", "created_at"},
			pgx.CopyFromRows(coefRows),
		); err != nil {
			return fmt.Errorf("failed to insert coefficients for run %s: %w", run.RunID, err)
		}

		segRows := make([][]any, len(run.Segments))
		for i, s := range run.Segments {
			segRows[i] = []any{run.RunID, s.MarketGroup, s.ValueTier, s.N, s.R2, s.COD, s.PRD, s.MedianRatio,
				s.Predictors, s.PriceMin, s.PriceMax, run.CreatedAt}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"adjustment_model_segments"},
			[]string{"run_id", "market_group", "value_tier", "n", "r2", "cod", "prd", "median_ratio",
				"predictors", "price_min", "price_max", "created_at"},
			pgx.CopyFromRows(segRows),
		); err != nil {
			return fmt.Errorf("failed to insert segments for run %s: %w", run.RunID, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO adjustment_run_summaries (run_id, created_at, summary)
			VALUES ($1, $2, $3::jsonb)
		`, run.RunID, run.CreatedAt, string(run.Summary)); err != nil {
			return fmt.Errorf("failed to insert summary for run %s: %w", run.RunID, err)
		}
		return nil
	})
}

func (r *coefficientRepository) DeleteRun(ctx context.Context, runID string) (int64, error) {
	var deleted int64
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM adjustment_coefficients WHERE run_id = $1`, runID)
		if err != nil {
			return fmt.Errorf("failed to delete coefficients for run %s: %w", runID, err)
		}
		deleted = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM adjustment_model_segments WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("failed to delete segments for run %s: %w", runID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM adjustment_run_summaries WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("failed to delete summary for run %s: %w", runID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *coefficientRepository) ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error) {
	query := `
		SELECT run_id, min(created_at), array_agg(DISTINCT market_group ORDER BY market_group), count(*)
		FROM adjustment_coefficients
		GROUP BY run_id
		ORDER BY min(created_at) DESC, run_id DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RunInfo, error) {
		var info models.RunInfo
		err := row.Scan(&info.RunID, &info.CreatedAt, &info.MarketGroups, &info.Coefficients)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan run rows: %w", err)
	}
	return runs, nil
}

func (r *coefficientRepository) RunSummary(ctx context.Context, runID string) ([]byte, error) {
	var summary []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT summary::text FROM adjustment_run_summaries WHERE run_id = $1`, runID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query summary for run %s: %w", runID, err)
	}
	return summary, nil
}
