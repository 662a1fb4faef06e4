package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
)

func testRatioConfig() config.RatioConfig {
	return config.RatioConfig{LowSample: 5, CODMin: 5, CODMax: 15, PRDMin: 0.98, PRDMax: 1.03, TrimLow: 0.25, TrimHigh: 2.5}
}

func ratioSales(ratios ...float64) []models.TrainingSale {
	out := make([]models.TrainingSale, len(ratios))
	for i, r := range ratios {
		price := 400000.0
		out[i] = models.TrainingSale{
			Parcel: models.Parcel{ParcelNumber: "R" + string(rune('A'+i)), AssessedValue: f64(r * price)},
			Sale:   models.Sale{SalePrice: price, SaleType: "VALID SALE"},
		}
	}
	return out
}

func newTestRatioService(parcels *MockParcelRepository, metrics *MockMetricsRepository) *ratioStudyService {
	svc := NewRatioStudyService(parcels, metrics, testRatioConfig(), testComparableConfig(), logger.Nop()).(*ratioStudyService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestRefreshRatioStudy_ComputesAndStores(t *testing.T) {
	parcels := new(MockParcelRepository)
	metrics := new(MockMetricsRepository)
	svc := newTestRatioService(parcels, metrics)
	ctx := context.Background()

	sales := ratioSales(0.92, 0.95, 1.00, 1.05, 1.10)
	noAssessment := models.TrainingSale{Parcel: models.Parcel{ParcelNumber: "RX"}, Sale: models.Sale{SalePrice: 300000}}
	sales = append(sales, noAssessment)

	parcels.On("FindTrainingSales", ctx, mock.MatchedBy(func(f models.SaleFilter) bool {
		return f.NeighborhoodCode == "20MV01" && f.RollYear == 2025 && f.MinSalePrice == 10000
	})).Return(sales, nil)

	var stored models.NeighborhoodMetrics
	metrics.On("UpsertNeighborhoodMetrics", ctx, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(models.NeighborhoodMetrics) }).
		Return(nil)

	m, err := svc.RefreshRatioStudy(ctx, " 20mv01 ", 2025)

	require.NoError(t, err)
	assert.Equal(t, "20MV01", m.NeighborhoodCode)
	assert.Equal(t, 5, m.SampleSize)
	assert.Equal(t, 1, m.Dropped)
	assert.InDelta(t, 1.0, m.MedianRatio, 1e-12)
	assert.InDelta(t, 5.6, m.COD, 1e-9)
	assert.Equal(t, analytics.ReliabilityReliable, m.Reliability)
	assert.Equal(t, analytics.EquityNeutral, m.VerticalEquity)
	assert.True(t, testNow.Equal(m.UpdatedAt))
	assert.Equal(t, *m, stored)
}

func TestRefreshRatioStudy_InsufficientDataIsNotStored(t *testing.T) {
	parcels := new(MockParcelRepository)
	metrics := new(MockMetricsRepository)
	svc := newTestRatioService(parcels, metrics)
	ctx := context.Background()

	parcels.On("FindTrainingSales", ctx, mock.Anything).Return([]models.TrainingSale{}, nil)

	_, err := svc.RefreshRatioStudy(ctx, "20B01", 2025)

	var ide *analytics.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Contains(t, ide.Scope, "20B01")
	metrics.AssertNotCalled(t, "UpsertNeighborhoodMetrics", mock.Anything, mock.Anything)
}

func TestGetRatioStudy_ReturnsStored(t *testing.T) {
	parcels := new(MockParcelRepository)
	metrics := new(MockMetricsRepository)
	svc := newTestRatioService(parcels, metrics)
	ctx := context.Background()

	stored := &models.NeighborhoodMetrics{NeighborhoodCode: "20MV01", Year: 2025, COD: 9}
	metrics.On("FindNeighborhoodMetrics", ctx, "20MV01", 2025).Return(stored, nil)

	m, err := svc.GetRatioStudy(ctx, "20mv01", 2025)

	require.NoError(t, err)
	assert.Same(t, stored, m)
	parcels.AssertNotCalled(t, "FindTrainingSales", mock.Anything, mock.Anything)

	_, err = svc.GetRatioStudy(ctx, "  ", 2025)
	assert.ErrorIs(t, err, ErrInvalidNeighborhood)
}

func TestGetRatioStudy_ComputesWhenMissing(t *testing.T) {
	parcels := new(MockParcelRepository)
	metrics := new(MockMetricsRepository)
	svc := newTestRatioService(parcels, metrics)
	ctx := context.Background()

	metrics.On("FindNeighborhoodMetrics", ctx, "20B01", 2025).Return(nil, nil)
	parcels.On("FindTrainingSales", ctx, mock.Anything).Return(ratioSales(1.0), nil)
	metrics.On("UpsertNeighborhoodMetrics", ctx, mock.Anything).Return(nil)

	m, err := svc.GetRatioStudy(ctx, "20B01", 2025)

	require.NoError(t, err)
	assert.Equal(t, 1, m.SampleSize)
	assert.Zero(t, m.COD)
	assert.Equal(t, analytics.ReliabilityLowSample, m.Reliability, "a single sale is never reliable")
}

func TestRefreshAll_ReportsPerNeighborhood(t *testing.T) {
	parcels := new(MockParcelRepository)
	metrics := new(MockMetricsRepository)
	svc := newTestRatioService(parcels, metrics)
	ctx := context.Background()

	byHood := func(code string) interface{} {
		return mock.MatchedBy(func(f models.SaleFilter) bool { return f.NeighborhoodCode == code })
	}
	parcels.On("ListNeighborhoods", ctx, 2025).Return([]string{"20A01", "20B01", "20CC01"}, nil)
	parcels.On("FindTrainingSales", ctx, byHood("20A01")).Return(ratioSales(0.9, 1.0, 1.1), nil)
	parcels.On("FindTrainingSales", ctx, byHood("20B01")).Return([]models.TrainingSale{}, nil)
	parcels.On("FindTrainingSales", ctx, byHood("20CC01")).Return(nil, errors.New("statement timeout"))
	metrics.On("UpsertNeighborhoodMetrics", ctx, mock.Anything).Return(nil)

	report, err := svc.RefreshAll(ctx, 2025)

	require.NoError(t, err)
	assert.Equal(t, []string{"20A01"}, report.Updated)
	assert.Equal(t, []string{"20B01"}, report.Insufficient)
	assert.Equal(t, []string{"20CC01"}, report.Failed)
}
