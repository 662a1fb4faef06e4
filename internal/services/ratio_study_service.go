package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

// RefreshReport summarizes a refresh over every neighborhood of a year.
type RefreshReport struct {
	Year         int      `json:"year"`
	Updated      []string `json:"updated"`
	Insufficient []string `json:"insufficient"`
	Failed       []string `json:"failed"`
}

// RatioStudyService computes and stores neighborhood ratio studies.
type RatioStudyService interface {
	// GetRatioStudy returns the stored study for (neighborhood, year),
	// computing and storing it first when none exists.
	// Returns *analytics.InsufficientDataError when no usable sales exist.
	GetRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error)

	// RefreshRatioStudy recomputes and stores the study from current sales.
	RefreshRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error)

	// RefreshAll recomputes every neighborhood with valid sales in year.
	// Per-neighborhood failures are reported, not returned.
	RefreshAll(ctx context.Context, year int) (*RefreshReport, error)
}

type ratioStudyService struct {
	parcels repository.ParcelRepository
	metrics repository.MetricsRepository
	opts    analytics.RatioOptions
	window  config.ComparableConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewRatioStudyService creates a new instance of RatioStudyService. Sales are
// filtered with the same window and minimum price as comparable searches.
func NewRatioStudyService(parcels repository.ParcelRepository, metrics repository.MetricsRepository, ratio config.RatioConfig, window config.ComparableConfig, log *logger.Logger) RatioStudyService {
	return &ratioStudyService{
		parcels: parcels,
		metrics: metrics,
		opts:    RatioOptions(ratio),
		window:  window,
		log:     log.WithComponent("ratio_study"),
		now:     time.Now,
	}
}

// RatioOptions converts ratio configuration to calculator options.
func RatioOptions(c config.RatioConfig) analytics.RatioOptions {
	return analytics.RatioOptions{
		LowSample: c.LowSample,
		CODMin:    c.CODMin,
		CODMax:    c.CODMax,
		PRDMin:    c.PRDMin,
		PRDMax:    c.PRDMax,
		TrimLow:   c.TrimLow,
		TrimHigh:  c.TrimHigh,
	}
}

func (s *ratioStudyService) GetRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error) {
	code := strings.ToUpper(strings.TrimSpace(neighborhoodCode))
	if code == "" {
		return nil, ErrInvalidNeighborhood
	}

	stored, err := s.metrics.FindNeighborhoodMetrics(ctx, code, year)
	if err != nil {
		s.log.Error("Failed to load neighborhood metrics", err, map[string]interface{}{
			"neighborhood": code,
			"year":         year,
		})
		return nil, fmt.Errorf("failed to load neighborhood metrics: %w", err)
	}
	if stored != nil {
		return stored, nil
	}
	return s.RefreshRatioStudy(ctx, code, year)
}

func (s *ratioStudyService) RefreshRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error) {
	code := strings.ToUpper(strings.TrimSpace(neighborhoodCode))

	s.log.Info("Computing ratio study", map[string]interface{}{
		"neighborhood": code,
		"year":         year,
	})

	sales, err := s.parcels.FindTrainingSales(ctx, models.SaleFilter{
		SaleWindowStart:  s.window.SaleWindowStart,
		MinSalePrice:     s.window.MinSalePrice,
		RollYear:         year,
		NeighborhoodCode: code,
	})
	if err != nil {
		s.log.Error("Failed to load ratio study sales", err, map[string]interface{}{
			"neighborhood": code,
			"year":         year,
		})
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}

	pairs := make([]analytics.RatioPair, 0, len(sales))
	missing := 0
	for _, sale := range sales {
		assessed := math.NaN()
		if sale.Parcel.AssessedValue != nil {
			assessed = *sale.Parcel.AssessedValue
		} else {
			missing++
		}
		pairs = append(pairs, analytics.RatioPair{
			ParcelNumber: sale.Parcel.ParcelNumber,
			Assessed:     assessed,
			Price:        sale.Sale.SalePrice,
		})
	}
	if missing > 0 {
		s.log.Warn("Sales without an assessed value dropped from ratio study", map[string]interface{}{
			"neighborhood": code,
			"year":         year,
			"count":        missing,
		})
	}

	m, err := analytics.ComputeRatioMetrics(pairs, s.opts)
	if err != nil {
		var ide *analytics.InsufficientDataError
		if errors.As(err, &ide) {
			ide.Scope = fmt.Sprintf("ratio study %s/%d", code, year)
		}
		return nil, err
	}

	metrics := models.NeighborhoodMetrics{
		NeighborhoodCode: code,
		Year:             year,
		SalesRatio:       m.SalesRatio,
		MedianRatio:      m.MedianRatio,
		COD:              m.COD,
		PRD:              m.PRD,
		SampleSize:       m.SampleSize,
		Reliability:      m.Reliability,
		VerticalEquity:   m.VerticalEquity,
		Dropped:          m.Dropped,
		Trimmed:          m.Trimmed,
		UpdatedAt:        s.now().UTC(),
	}
	if err := s.metrics.UpsertNeighborhoodMetrics(ctx, metrics); err != nil {
		s.log.Error("Failed to store neighborhood metrics", err, map[string]interface{}{
			"neighborhood": code,
			"year":         year,
		})
		return nil, fmt.Errorf("failed to store neighborhood metrics: %w", err)
	}

	s.log.Info("Ratio study stored", map[string]interface{}{
		"neighborhood": code,
		"year":         year,
		"n":            metrics.SampleSize,
		"cod":          metrics.COD,
		"prd":          metrics.PRD,
		"reliability":  metrics.Reliability,
	})
	return &metrics, nil
}

func (s *ratioStudyService) RefreshAll(ctx context.Context, year int) (*RefreshReport, error) {
	codes, err := s.parcels.ListNeighborhoods(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list neighborhoods: %w", err)
	}

	report := &RefreshReport{Year: year, Updated: []string{}, Insufficient: []string{}, Failed: []string{}}
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := s.RefreshRatioStudy(ctx, code, year)
		switch {
		case err == nil:
			report.Updated = append(report.Updated, code)
		case analytics.IsInsufficientData(err):
			report.Insufficient = append(report.Insufficient, code)
		default:
			s.log.Error("Ratio study refresh failed", err, map[string]interface{}{
				"neighborhood": code,
				"year":         year,
			})
			report.Failed = append(report.Failed, code)
		}
	}

	s.log.Info("Ratio study refresh complete", map[string]interface{}{
		"year":         year,
		"updated":      len(report.Updated),
		"insufficient": len(report.Insufficient),
		"failed":       len(report.Failed),
	})
	return report, nil
}
