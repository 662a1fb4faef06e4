package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	apierrors "github.com/stwalsh4118/appraisal/internal/errors"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/services"
)

type MockParcelService struct {
	mock.Mock
}

func (m *MockParcelService) GetSubjectSummary(ctx context.Context, parcelNumber string, rollYear int) (*services.SubjectSummary, error) {
	args := m.Called(ctx, parcelNumber, rollYear)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubjectSummary), args.Error(1)
}

func (m *MockParcelService) ScoreAppeal(ctx context.Context, parcelNumber string, rollYear int, adjustedPrices []float64) (*analytics.AppealScore, error) {
	args := m.Called(ctx, parcelNumber, rollYear, adjustedPrices)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.AppealScore), args.Error(1)
}

type MockComparableService struct {
	mock.Mock
}

func (m *MockComparableService) FindComparables(ctx context.Context, q services.ComparableQuery) (*services.ComparableResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ComparableResult), args.Error(1)
}

type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Create(ctx context.Context, req services.CreateAnalysisRequest) (*models.Analysis, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Analysis), args.Error(1)
}

func (m *MockAnalysisService) Get(ctx context.Context, id string) (*models.Analysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Analysis), args.Error(1)
}

func (m *MockAnalysisService) SetManualAdjustment(ctx context.Context, analysisID string, selectionID uint, term string, pct *float64) (*models.ComparableSelection, error) {
	args := m.Called(ctx, analysisID, selectionID, term, pct)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ComparableSelection), args.Error(1)
}

func (m *MockAnalysisService) SetIncluded(ctx context.Context, analysisID string, selectionID uint, included bool) (*models.ComparableSelection, error) {
	args := m.Called(ctx, analysisID, selectionID, included)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ComparableSelection), args.Error(1)
}

func (m *MockAnalysisService) Score(ctx context.Context, analysisID string) (*analytics.AppealScore, error) {
	args := m.Called(ctx, analysisID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.AppealScore), args.Error(1)
}

func (m *MockAnalysisService) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockRatioStudyService struct {
	mock.Mock
}

func (m *MockRatioStudyService) GetRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error) {
	args := m.Called(ctx, neighborhoodCode, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NeighborhoodMetrics), args.Error(1)
}

func (m *MockRatioStudyService) RefreshRatioStudy(ctx context.Context, neighborhoodCode string, year int) (*models.NeighborhoodMetrics, error) {
	args := m.Called(ctx, neighborhoodCode, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NeighborhoodMetrics), args.Error(1)
}

func (m *MockRatioStudyService) RefreshAll(ctx context.Context, year int) (*services.RefreshReport, error) {
	args := m.Called(ctx, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RefreshReport), args.Error(1)
}

type MockCoefficientService struct {
	mock.Mock
}

func (m *MockCoefficientService) ResolveModel(ctx context.Context, marketGroup, runID string) (*services.ModelSelection, error) {
	args := m.Called(ctx, marketGroup, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ModelSelection), args.Error(1)
}

func (m *MockCoefficientService) GetCoefficients(ctx context.Context, marketGroup, valueTier, runID string) (analytics.CoefficientSet, error) {
	args := m.Called(ctx, marketGroup, valueTier, runID)
	return args.Get(0).(analytics.CoefficientSet), args.Error(1)
}

func (m *MockCoefficientService) ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RunInfo), args.Error(1)
}

func (m *MockCoefficientService) RunSummary(ctx context.Context, runID string) ([]byte, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// newTestRouter builds a router with the request-scoped middleware the
// server installs.
func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Nop()))
	return router
}

func doRequest(t *testing.T, router http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierrors.ErrorDetail {
	t.Helper()
	var response apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response.Error
}

func f64(v float64) *float64 {
	return &v
}
