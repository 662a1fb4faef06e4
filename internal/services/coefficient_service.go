package services

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

// ModelSelection is a resolved (market group, run) and the value-tier
// segments fitted in it.
type ModelSelection struct {
	MarketGroup string                          `json:"marketGroup"`
	RunID       string                          `json:"runId"`
	Segments    []models.AdjustmentModelSegment `json:"segments"`
}

// TierFor returns the value tier that applies to a comparable sold at price.
func (m *ModelSelection) TierFor(price float64) string {
	return analytics.SelectTier(m.Segments, price)
}

// CoefficientService reads fitted adjustment models. Callers thread the
// resolved run ID through every lookup; nothing here remembers a current run.
type CoefficientService interface {
	// ResolveModel pins a market group to a run. An empty runID selects the
	// most recent run for the group. Returns *analytics.ConfigurationError
	// when the group has no fitted run.
	ResolveModel(ctx context.Context, marketGroup, runID string) (*ModelSelection, error)

	// GetCoefficients returns the coefficient set for one (market group, value
	// tier, run). Returns *analytics.ConfigurationError when none exist; no
	// other model is substituted.
	GetCoefficients(ctx context.Context, marketGroup, valueTier, runID string) (analytics.CoefficientSet, error)

	// ListRuns returns the most recent runs.
	ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error)

	// RunSummary returns the stored diagnostics document for a run.
	RunSummary(ctx context.Context, runID string) ([]byte, error)
}

type coefficientService struct {
	repo repository.CoefficientRepository
	log  *logger.Logger
}

// NewCoefficientService creates a new instance of CoefficientService.
func NewCoefficientService(repo repository.CoefficientRepository, log *logger.Logger) CoefficientService {
	return &coefficientService{
		repo: repo,
		log:  log.WithComponent("coefficients"),
	}
}

func (s *coefficientService) resolveRunID(ctx context.Context, marketGroup, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	latest, err := s.repo.LatestRunID(ctx, marketGroup)
	if err != nil {
		s.log.Error("Failed to resolve latest run", err, map[string]interface{}{
			"market_group": marketGroup,
		})
		return "", fmt.Errorf("failed to resolve latest run: %w", err)
	}
	if latest == "" {
		return "", &analytics.ConfigurationError{MarketGroup: marketGroup, Reason: "no fitted run for market group"}
	}
	return latest, nil
}

func (s *coefficientService) ResolveModel(ctx context.Context, marketGroup, runID string) (*ModelSelection, error) {
	if marketGroup == "" {
		return nil, &analytics.ConfigurationError{Reason: "subject has no valuation area"}
	}
	runID, err := s.resolveRunID(ctx, marketGroup, runID)
	if err != nil {
		return nil, err
	}

	segments, err := s.repo.FindSegments(ctx, marketGroup, runID)
	if err != nil {
		s.log.Error("Failed to load model segments", err, map[string]interface{}{
			"market_group": marketGroup,
			"run_id":       runID,
		})
		return nil, fmt.Errorf("failed to load model segments: %w", err)
	}
	if len(segments) == 0 {
		return nil, &analytics.ConfigurationError{MarketGroup: marketGroup, RunID: runID, Reason: "run has no model for market group"}
	}

	s.log.Debug("Resolved adjustment model", map[string]interface{}{
		"market_group": marketGroup,
		"run_id":       runID,
		"tiers":        len(segments),
	})
	return &ModelSelection{MarketGroup: marketGroup, RunID: runID, Segments: segments}, nil
}

func (s *coefficientService) GetCoefficients(ctx context.Context, marketGroup, valueTier, runID string) (analytics.CoefficientSet, error) {
	runID, err := s.resolveRunID(ctx, marketGroup, runID)
	if err != nil {
		return analytics.CoefficientSet{}, err
	}

	rows, err := s.repo.FindCoefficients(ctx, marketGroup, valueTier, runID)
	if err != nil {
		s.log.Error("Failed to load coefficients", err, map[string]interface{}{
			"market_group": marketGroup,
			"value_tier":   valueTier,
			"run_id":       runID,
		})
		return analytics.CoefficientSet{}, fmt.Errorf("failed to load coefficients: %w", err)
	}
	if len(rows) == 0 {
		s.log.Warn("No coefficients configured", map[string]interface{}{
			"market_group": marketGroup,
			"value_tier":   valueTier,
			"run_id":       runID,
		})
		return analytics.CoefficientSet{}, &analytics.ConfigurationError{
			MarketGroup: marketGroup,
			ValueTier:   valueTier,
			RunID:       runID,
			Reason:      "no coefficients",
		}
	}
	return analytics.NewCoefficientSet(rows), nil
}

func (s *coefficientService) ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (s *coefficientService) RunSummary(ctx context.Context, runID string) ([]byte, error) {
	summary, err := s.repo.RunSummary(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run summary: %w", err)
	}
	if summary == nil {
		return nil, &analytics.ConfigurationError{RunID: runID, Reason: "run not found"}
	}
	return summary, nil
}
