package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/reference"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

// MaxManualAdjustmentPct bounds a manual override's magnitude.
const MaxManualAdjustmentPct = 100

// CreateAnalysisRequest starts an appeal analysis. Empty MarketGroup uses the
// subject's valuation area; empty RunID uses the latest run for that group.
type CreateAnalysisRequest struct {
	ParcelNumber string
	RollYear     int
	RadiusMeters float64
	Limit        int
	NoExpand     bool
	MarketGroup  string
	RunID        string
}

// AnalysisService manages saved appeal analyses and their comparable selections.
type AnalysisService interface {
	// Create searches comparables, adjusts each to the subject with the
	// resolved model and saves the ranked selections. Comparables whose
	// adjustment cannot be computed are left out.
	Create(ctx context.Context, req CreateAnalysisRequest) (*models.Analysis, error)

	// Get returns ErrAnalysisNotFound if the analysis does not exist.
	Get(ctx context.Context, id string) (*models.Analysis, error)

	// SetManualAdjustment replaces the automatic value of term with pct
	// (log-space percent) on one selection. A nil pct clears the override.
	SetManualAdjustment(ctx context.Context, analysisID string, selectionID uint, term string, pct *float64) (*models.ComparableSelection, error)

	// SetIncluded includes or excludes one selection from scoring.
	SetIncluded(ctx context.Context, analysisID string, selectionID uint, included bool) (*models.ComparableSelection, error)

	// Score rates the appeal from the included selections.
	Score(ctx context.Context, analysisID string) (*analytics.AppealScore, error)

	// Delete removes an analysis and its selections.
	Delete(ctx context.Context, id string) error
}

type analysisService struct {
	repo         repository.AnalysisRepository
	comparables  ComparableService
	coefficients CoefficientService
	parcels      ParcelService
	tables       *reference.Tables
	log          *logger.Logger
}

// NewAnalysisService creates a new instance of AnalysisService.
func NewAnalysisService(repo repository.AnalysisRepository, comparables ComparableService, coefficients CoefficientService, parcels ParcelService, tables *reference.Tables, log *logger.Logger) AnalysisService {
	return &analysisService{
		repo:         repo,
		comparables:  comparables,
		coefficients: coefficients,
		parcels:      parcels,
		tables:       tables,
		log:          log.WithComponent("analysis"),
	}
}

// ValuationDate is the as-of date subjects are valued at for a roll year.
func ValuationDate(rollYear int) time.Time {
	return time.Date(rollYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (s *analysisService) Create(ctx context.Context, req CreateAnalysisRequest) (*models.Analysis, error) {
	found, err := s.comparables.FindComparables(ctx, ComparableQuery{
		ParcelNumber: req.ParcelNumber,
		RollYear:     req.RollYear,
		RadiusMeters: req.RadiusMeters,
		Limit:        req.Limit,
		NoExpand:     req.NoExpand,
	})
	if err != nil {
		return nil, err
	}
	subject := found.Subject

	group := req.MarketGroup
	if group == "" {
		group = s.tables.ValuationArea(subject.NeighborhoodCode)
	}
	model, err := s.coefficients.ResolveModel(ctx, group, req.RunID)
	if err != nil {
		return nil, err
	}

	subjectObs := analytics.Observation{Parcel: subject, AsOf: ValuationDate(subject.RollYear)}
	sets := make(map[string]analytics.CoefficientSet)

	analysis := &models.Analysis{
		ID:                uuid.NewString(),
		SubjectParcel:     subject.ParcelNumber,
		RollYear:          subject.RollYear,
		MarketGroup:       model.MarketGroup,
		RunID:             model.RunID,
		RadiusMeters:      found.RequestedRadiusMeters,
		FinalRadiusMeters: found.RadiusMeters,
		Limit:             found.CurrentLimit,
		SubjectAssessed:   subject.AssessedValue,
		Selections:        make([]models.ComparableSelection, 0, len(found.Comparables)),
	}

	dropped := 0
	for _, comp := range found.Comparables {
		tier := model.TierFor(comp.Sale.SalePrice)
		set, ok := sets[tier]
		if !ok {
			set, err = s.coefficients.GetCoefficients(ctx, model.MarketGroup, tier, model.RunID)
			if err != nil {
				return nil, err
			}
			sets[tier] = set
		}

		adj, err := analytics.Adjust(comp, subjectObs, set, nil)
		if err != nil {
			var ce *analytics.ComputationError
			if errors.As(err, &ce) {
				dropped++
				s.log.Warn("Comparable dropped from analysis", map[string]interface{}{
					"parcel": comp.Parcel.ParcelNumber,
					"error":  err.Error(),
				})
				continue
			}
			return nil, err
		}

		sel := models.ComparableSelection{
			ParcelNumber:   comp.Parcel.ParcelNumber,
			SaleDate:       comp.Sale.SaleDate,
			DistanceMeters: comp.DistanceMeters,
			ValueTier:      tier,
			RawPrice:       comp.Sale.SalePrice,
			SkippedTerms:   adj.Skipped,
			Included:       true,
			Rank:           len(analysis.Selections) + 1,
		}
		applyAdjustment(&sel, adj)
		analysis.Selections = append(analysis.Selections, sel)
	}

	if err := s.repo.Create(ctx, analysis); err != nil {
		s.log.Error("Failed to save analysis", err, map[string]interface{}{
			"parcel": subject.ParcelNumber,
		})
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	s.log.Info("Analysis created", map[string]interface{}{
		"analysis_id":  analysis.ID,
		"parcel":       subject.ParcelNumber,
		"market_group": analysis.MarketGroup,
		"run_id":       analysis.RunID,
		"selections":   len(analysis.Selections),
		"dropped":      dropped,
	})
	return analysis, nil
}

func applyAdjustment(sel *models.ComparableSelection, adj analytics.AdjustedResult) {
	sel.AdjustedPrice = adj.AdjustedPrice
	sel.GrossPct = adj.GrossPct
	sel.NetPct = adj.NetPct
	sel.AutoEffects = adj.AutoEffects
	sel.AutoAdjustments = analytics.AutoPercentages(adj.AutoEffects)
	sel.Itemization = adj.Items
}

func (s *analysisService) Get(ctx context.Context, id string) (*models.Analysis, error) {
	analysis, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.log.Error("Failed to load analysis", err, map[string]interface{}{"analysis_id": id})
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	if analysis == nil {
		return nil, ErrAnalysisNotFound
	}
	return analysis, nil
}

func (s *analysisService) selection(ctx context.Context, analysisID string, selectionID uint) (*models.ComparableSelection, error) {
	sel, err := s.repo.FindSelection(ctx, analysisID, selectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}
	if sel == nil {
		return nil, ErrSelectionNotFound
	}
	return sel, nil
}

func (s *analysisService) SetManualAdjustment(ctx context.Context, analysisID string, selectionID uint, term string, pct *float64) (*models.ComparableSelection, error) {
	if !analytics.IsKnownTerm(term) || analytics.IsIgnoredTerm(term) {
		return nil, fmt.Errorf("%w: unknown term %q", ErrInvalidAdjustment, term)
	}
	if pct != nil && (math.IsNaN(*pct) || math.Abs(*pct) > MaxManualAdjustmentPct) {
		return nil, fmt.Errorf("%w: %s must be within ±%d%%", ErrInvalidAdjustment, term, MaxManualAdjustmentPct)
	}

	sel, err := s.selection(ctx, analysisID, selectionID)
	if err != nil {
		return nil, err
	}

	manual := make(map[string]float64, len(sel.ManualAdjustments)+1)
	for k, v := range sel.ManualAdjustments {
		manual[k] = v
	}
	if pct == nil {
		delete(manual, term)
	} else {
		manual[term] = *pct
	}

	adj, err := analytics.Combine(sel.ParcelNumber, sel.RawPrice, sel.AutoEffects, manual)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAdjustment, err)
	}
	applyAdjustment(sel, adj)
	sel.ManualAdjustments = manual

	if err := s.repo.UpdateSelection(ctx, sel); err != nil {
		s.log.Error("Failed to save manual adjustment", err, map[string]interface{}{
			"analysis_id":  analysisID,
			"selection_id": selectionID,
		})
		return nil, fmt.Errorf("failed to save selection: %w", err)
	}

	s.log.Info("Manual adjustment updated", map[string]interface{}{
		"analysis_id":    analysisID,
		"selection_id":   selectionID,
		"term":           term,
		"cleared":        pct == nil,
		"adjusted_price": sel.AdjustedPrice,
	})
	return sel, nil
}

func (s *analysisService) SetIncluded(ctx context.Context, analysisID string, selectionID uint, included bool) (*models.ComparableSelection, error) {
	sel, err := s.selection(ctx, analysisID, selectionID)
	if err != nil {
		return nil, err
	}
	if sel.Included == included {
		return sel, nil
	}

	sel.Included = included
	if err := s.repo.UpdateSelection(ctx, sel); err != nil {
		return nil, fmt.Errorf("failed to save selection: %w", err)
	}
	return sel, nil
}

func (s *analysisService) Score(ctx context.Context, analysisID string) (*analytics.AppealScore, error) {
	analysis, err := s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	prices := make([]float64, 0, len(analysis.Selections))
	for _, sel := range analysis.Selections {
		if sel.Included {
			prices = append(prices, sel.AdjustedPrice)
		}
	}
	return s.parcels.ScoreAppeal(ctx, analysis.SubjectParcel, analysis.RollYear, prices)
}

func (s *analysisService) Delete(ctx context.Context, id string) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.log.Error("Failed to delete analysis", err, map[string]interface{}{"analysis_id": id})
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if !found {
		return ErrAnalysisNotFound
	}
	s.log.Info("Analysis deleted", map[string]interface{}{"analysis_id": id})
	return nil
}
