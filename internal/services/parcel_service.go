package services

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/reference"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

// AssessmentSummary is the subject's assessment and its change from the
// prior roll.
type AssessmentSummary struct {
	RollYear           int      `json:"rollYear"`
	AssessedValue      *float64 `json:"assessedValue,omitempty"`
	PriorAssessedValue *float64 `json:"priorAssessedValue,omitempty"`
	ChangePct          *float64 `json:"changePct,omitempty"`
}

// NeighborhoodSummary places the subject in its neighborhood.
// DifferentialPct is the subject's assessment change minus the neighborhood
// median change, in percentage points.
type NeighborhoodSummary struct {
	Code            string                      `json:"code"`
	ValuationArea   string                      `json:"valuationArea"`
	MedianChangePct *float64                    `json:"medianChangePct,omitempty"`
	DifferentialPct *float64                    `json:"differentialPct,omitempty"`
	Metrics         *models.NeighborhoodMetrics `json:"metrics,omitempty"`
}

// SubjectSummary is everything the appeal screens show about a subject.
type SubjectSummary struct {
	Subject      *models.Parcel      `json:"subject"`
	Assessment   AssessmentSummary   `json:"assessment"`
	Neighborhood NeighborhoodSummary `json:"neighborhood"`
}

// ParcelService defines the interface for subject parcel operations.
type ParcelService interface {
	// GetSubjectSummary loads the subject with its assessment history and
	// neighborhood context. A zero rollYear selects the latest roll.
	// Returns ErrParcelNotFound if the parcel does not exist.
	GetSubjectSummary(ctx context.Context, parcelNumber string, rollYear int) (*SubjectSummary, error)

	// ScoreAppeal rates an appeal for the subject from the adjusted prices of
	// its comparables.
	// Returns ErrParcelNotFound if the parcel does not exist.
	ScoreAppeal(ctx context.Context, parcelNumber string, rollYear int, adjustedPrices []float64) (*analytics.AppealScore, error)
}

// parcelService is the concrete implementation of ParcelService.
type parcelService struct {
	repo   repository.ParcelRepository
	ratios RatioStudyService
	tables *reference.Tables
	log    *logger.Logger
}

// NewParcelService creates a new instance of ParcelService.
func NewParcelService(repo repository.ParcelRepository, ratios RatioStudyService, tables *reference.Tables, log *logger.Logger) ParcelService {
	return &parcelService{
		repo:   repo,
		ratios: ratios,
		tables: tables,
		log:    log.WithComponent("parcels"),
	}
}

func (s *parcelService) GetSubjectSummary(ctx context.Context, parcelNumber string, rollYear int) (*SubjectSummary, error) {
	if parcelNumber == "" {
		return nil, ErrInvalidParcelID
	}

	s.log.Info("Querying subject parcel", map[string]interface{}{
		"parcel":    parcelNumber,
		"roll_year": rollYear,
	})

	subject, err := s.repo.FindByParcelNumber(ctx, parcelNumber, rollYear)
	if err != nil {
		s.log.Error("Failed to query subject parcel", err, map[string]interface{}{
			"parcel": parcelNumber,
		})
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}

	// Repository returns nil, nil when no parcel found - transform to domain error
	if subject == nil {
		s.log.Debug("No parcel found", map[string]interface{}{
			"parcel": parcelNumber,
		})
		return nil, ErrParcelNotFound
	}

	summary := &SubjectSummary{
		Subject: subject,
		Assessment: AssessmentSummary{
			RollYear:      subject.RollYear,
			AssessedValue: subject.AssessedValue,
		},
		Neighborhood: NeighborhoodSummary{
			Code:          subject.NeighborhoodCode,
			ValuationArea: s.tables.ValuationArea(subject.NeighborhoodCode),
		},
	}

	prior, err := s.repo.FindByParcelNumber(ctx, parcelNumber, subject.RollYear-1)
	if err != nil {
		return nil, fmt.Errorf("failed to query prior assessment: %w", err)
	}
	if prior != nil && prior.RollYear == subject.RollYear-1 {
		summary.Assessment.PriorAssessedValue = prior.AssessedValue
		summary.Assessment.ChangePct = percentChange(prior.AssessedValue, subject.AssessedValue)
	}

	if subject.NeighborhoodCode == "" {
		s.log.Warn("Subject parcel has no neighborhood code", map[string]interface{}{
			"parcel": parcelNumber,
		})
		return summary, nil
	}

	median, err := s.repo.NeighborhoodAssessmentChange(ctx, subject.NeighborhoodCode, subject.RollYear)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighborhood assessment change: %w", err)
	}
	summary.Neighborhood.MedianChangePct = median
	if median != nil && summary.Assessment.ChangePct != nil {
		diff := *summary.Assessment.ChangePct - *median
		summary.Neighborhood.DifferentialPct = &diff
	}

	metrics, err := s.ratios.GetRatioStudy(ctx, subject.NeighborhoodCode, subject.RollYear)
	switch {
	case err == nil:
		summary.Neighborhood.Metrics = metrics
	case analytics.IsInsufficientData(err):
		s.log.Debug("No ratio study for subject neighborhood", map[string]interface{}{
			"parcel":       parcelNumber,
			"neighborhood": subject.NeighborhoodCode,
		})
	default:
		return nil, fmt.Errorf("failed to load neighborhood ratio study: %w", err)
	}

	return summary, nil
}

func (s *parcelService) ScoreAppeal(ctx context.Context, parcelNumber string, rollYear int, adjustedPrices []float64) (*analytics.AppealScore, error) {
	summary, err := s.GetSubjectSummary(ctx, parcelNumber, rollYear)
	if err != nil {
		return nil, err
	}

	in := analytics.AppealInput{
		AssessedValue:       summary.Assessment.AssessedValue,
		AdjustedPrices:      adjustedPrices,
		NeighborhoodDiffPct: summary.Neighborhood.DifferentialPct,
	}
	if m := summary.Neighborhood.Metrics; m != nil {
		in.Reliability = m.Reliability
		cod := m.COD
		in.COD = &cod
	}

	score := analytics.ScoreAppeal(in)

	s.log.Info("Appeal scored", map[string]interface{}{
		"parcel":      parcelNumber,
		"score":       score.Score,
		"rating":      score.Rating,
		"comparables": score.ComparableCount,
	})
	return &score, nil
}

func percentChange(from, to *float64) *float64 {
	if from == nil || to == nil || *from <= 0 {
		return nil
	}
	v := (*to - *from) / *from * 100
	return &v
}
