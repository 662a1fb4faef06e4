package regression

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/reference"
)

type staticSales struct {
	sales []models.TrainingSale
	err   error
}

func (s *staticSales) FindTrainingSales(ctx context.Context, filter models.SaleFilter) ([]models.TrainingSale, error) {
	return s.sales, s.err
}

// MockRunStore is a mock implementation of RunStore for testing
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) SaveRun(ctx context.Context, run models.AdjustmentRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunStore) DeleteRun(ctx context.Context, runID string) (int64, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC)

func newTestJob(t *testing.T, sales []models.TrainingSale, store RunStore) (*Job, string) {
	t.Helper()
	tables, err := reference.Default()
	require.NoError(t, err)
	dir := t.TempDir()
	job := NewJob(&staticSales{sales: sales}, store, tables, dir, logger.Nop())
	job.now = func() time.Time { return fixedNow }
	return job, dir
}

func liveParams() Params {
	return Params{
		PredictorSet:   PredictorSetCore,
		Bundle:         BundleNone,
		Mode:           ModeLive,
		MinSegmentSize: 10,
		MaxSteps:       10,
		Workers:        2,
	}
}

func assertNoStagedFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "staged file left behind")
	}
}

func TestJobRun_LiveSavesRunAndDiagnostics(t *testing.T) {
	sales := append(syntheticSales(60, "20MV", 0), syntheticSales(60, "20B", 100)...)
	sales = append(sales, syntheticSales(3, "", 200)...)
	store := new(MockRunStore)
	job, dir := newTestJob(t, sales, store)

	store.On("SaveRun", mock.Anything, mock.MatchedBy(func(run models.AdjustmentRun) bool {
		return run.RunID == "20250304_050607" && len(run.Segments) == 2 && len(run.Summary) > 0
	})).Return(nil)

	res, err := job.Run(context.Background(), liveParams())
	require.NoError(t, err)
	store.AssertExpectations(t)

	assert.Equal(t, "20250304_050607", res.RunID)
	assert.Equal(t, 123, res.Diagnostics.SalesLoaded)
	assert.Equal(t, 3, res.Diagnostics.SalesUnassigned)
	require.Len(t, res.Diagnostics.Segments, 2)
	assert.Equal(t, "BURLINGTON", res.Diagnostics.Segments[0].MarketGroup)
	assert.Equal(t, "MOUNT_VERNON", res.Diagnostics.Segments[1].MarketGroup)

	for _, c := range res.Coefficients {
		assert.Equal(t, res.RunID, c.RunID)
		require.NotNil(t, c.StdErr)
	}

	assert.Equal(t, DiagnosticsPath(dir, res.RunID), res.DiagnosticsPath)
	doc, err := ReadDiagnostics(dir, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, doc.Mode)
	assert.Len(t, doc.Segments, 2)
	assertNoStagedFiles(t, dir)
}

func TestJobRun_FittedCoefficientsReproduceSubjectValue(t *testing.T) {
	sales := syntheticSales(80, "20MV", 0)
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(nil)
	job, _ := newTestJob(t, sales, store)

	res, err := job.Run(context.Background(), liveParams())
	require.NoError(t, err)

	coefs := analytics.NewCoefficientSet(res.Coefficients)
	assert.Equal(t, "MOUNT_VERNON", coefs.MarketGroup)
	assert.Equal(t, models.ValueTierAll, coefs.ValueTier)

	subject := syntheticParcel("SUBJECT", "20MV", 7)
	valuationDate := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	subjectObs := analytics.Observation{Parcel: &subject, AsOf: valuationDate}
	want := math.Exp(modelLogPrice(subjectObs))

	for _, s := range sales[:10] {
		comp := models.SaleCandidate{Parcel: s.Parcel, Sale: s.Sale}
		adj, err := analytics.Adjust(comp, subjectObs, coefs, nil)
		require.NoError(t, err)
		assert.InEpsilon(t, want, adj.AdjustedPrice, 1e-6, s.Parcel.ParcelNumber)
	}
}

func TestJobRun_ExperimentSkipsStore(t *testing.T) {
	store := new(MockRunStore)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)

	p := liveParams()
	p.Mode = ModeExperiment
	p.RunID = "exp_1"
	res, err := job.Run(context.Background(), p)
	require.NoError(t, err)

	store.AssertNotCalled(t, "SaveRun", mock.Anything, mock.Anything)
	assert.Equal(t, ExperimentDiagnosticsPath(dir, "exp_1"), res.DiagnosticsPath)
	_, err = os.Stat(ExperimentDiagnosticsPath(dir, "exp_1"))
	assert.NoError(t, err)
	_, err = os.Stat(DiagnosticsPath(dir, "exp_1"))
	assert.True(t, os.IsNotExist(err))
	assert.NotEmpty(t, res.Coefficients)
}

func TestJobRun_ExperimentLeavesLiveDiagnosticsAlone(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(nil)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)

	p := liveParams()
	p.RunID = "prod1"
	_, err := job.Run(context.Background(), p)
	require.NoError(t, err)
	before, err := os.ReadFile(DiagnosticsPath(dir, "prod1"))
	require.NoError(t, err)

	p.Mode = ModeExperiment
	p.Bundle = BundleTime
	res, err := job.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ExperimentDiagnosticsPath(dir, "prod1"), res.DiagnosticsPath)

	after, err := os.ReadFile(DiagnosticsPath(dir, "prod1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	doc, err := ReadDiagnostics(dir, "prod1")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, doc.Mode)
	assert.Equal(t, BundleNone, doc.Model.Bundle)

	// A second experiment under the same id does not replace the first.
	_, err = job.Run(context.Background(), p)
	assert.True(t, analytics.IsConfigurationError(err), "got %v", err)
	store.AssertNumberOfCalls(t, "SaveRun", 1)
}

func TestJobRun_LiveRunIDAlreadyPublished(t *testing.T) {
	store := new(MockRunStore)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)
	require.NoError(t, os.WriteFile(DiagnosticsPath(dir, "prod1"), []byte(`{"runId":"prod1"}`), 0o644))

	p := liveParams()
	p.RunID = "prod1"
	_, err := job.Run(context.Background(), p)

	assert.True(t, analytics.IsConfigurationError(err), "got %v", err)
	store.AssertNotCalled(t, "SaveRun", mock.Anything, mock.Anything)
	data, err := os.ReadFile(DiagnosticsPath(dir, "prod1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"runId":"prod1"}`, string(data))
}

func TestDiagnosticsCommit_RefusesToReplace(t *testing.T) {
	dir := t.TempDir()
	doc := &Diagnostics{RunID: "r1", Mode: ModeLive}

	first, err := stageDiagnostics(dir, doc)
	require.NoError(t, err)
	_, err = first.Commit()
	require.NoError(t, err)

	second, err := stageDiagnostics(dir, &Diagnostics{RunID: "r1", Mode: ModeLive, SalesLoaded: 99})
	require.NoError(t, err)
	_, err = second.Commit()
	assert.ErrorIs(t, err, ErrDiagnosticsExist)

	got, err := ReadDiagnostics(dir, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.SalesLoaded)
	assertNoStagedFiles(t, dir)
}

func TestJobRun_ExperimentWithoutStore(t *testing.T) {
	job, _ := newTestJob(t, syntheticSales(40, "20MV", 0), nil)

	p := liveParams()
	p.Mode = ModeExperiment
	_, err := job.Run(context.Background(), p)
	require.NoError(t, err)

	p.Mode = ModeLive
	_, err = job.Run(context.Background(), p)
	assert.True(t, analytics.IsConfigurationError(err))
}

func TestJobRun_SaveFailureLeavesNoDiagnostics(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)

	_, err := job.Run(context.Background(), liveParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJobRun_SaveFailureRetractsPublishedFile(t *testing.T) {
	store := new(MockRunStore)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)
	store.On("SaveRun", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// The file is already visible while the save runs.
		_, err := os.Stat(DiagnosticsPath(dir, "r_save"))
		assert.NoError(t, err)
	}).Return(errors.New("serialization failure"))

	p := liveParams()
	p.RunID = "r_save"
	_, err := job.Run(context.Background(), p)
	require.Error(t, err)

	_, err = os.Stat(DiagnosticsPath(dir, "r_save"))
	assert.True(t, os.IsNotExist(err))
}

func TestJobRun_DeadlineExceeded(t *testing.T) {
	store := new(MockRunStore)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := job.Run(ctx, liveParams())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	store.AssertNotCalled(t, "SaveRun", mock.Anything, mock.Anything)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestJobRun_CountywideAndTiered(t *testing.T) {
	sales := append(syntheticSales(45, "20MV", 0), syntheticSales(45, "20B", 100)...)
	job, _ := newTestJob(t, sales, nil)

	p := liveParams()
	p.Mode = ModeExperiment
	p.Countywide = true
	p.Tiered = true
	res, err := job.Run(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, res.Segments, 3)
	for _, s := range res.Segments {
		assert.Equal(t, models.MarketGroupCountywide, s.MarketGroup)
		assert.Equal(t, 30, s.N)
	}
	assert.Less(t, res.Segments[0].PriceMax, res.Segments[2].PriceMin)
}

func TestJobRun_InsufficientData(t *testing.T) {
	job, dir := newTestJob(t, syntheticSales(5, "20MV", 0), nil)

	p := liveParams()
	p.Mode = ModeExperiment
	_, err := job.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, analytics.IsInsufficientData(err))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestJobRun_InvalidParams(t *testing.T) {
	job, _ := newTestJob(t, nil, nil)

	tests := []struct {
		name   string
		modify func(p *Params)
	}{
		{"unknown mode", func(p *Params) { p.Mode = "dry" }},
		{"unknown predictor set", func(p *Params) { p.PredictorSet = "everything" }},
		{"unknown bundle", func(p *Params) { p.Bundle = "spicy" }},
		{"bad run id", func(p *Params) { p.RunID = "../etc/passwd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := liveParams()
			p.Mode = ModeExperiment
			tt.modify(&p)
			_, err := job.Run(context.Background(), p)
			assert.True(t, analytics.IsConfigurationError(err), "got %v", err)
		})
	}
}

func TestJobRun_SalesSourceError(t *testing.T) {
	tables, err := reference.Default()
	require.NoError(t, err)
	job := NewJob(&staticSales{err: errors.New("boom")}, nil, tables, t.TempDir(), logger.Nop())

	p := liveParams()
	p.Mode = ModeExperiment
	_, err = job.Run(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestJobRun_Cancelled(t *testing.T) {
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := liveParams()
	p.Mode = ModeExperiment
	_, err := job.Run(ctx, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestJobUndo(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(nil)
	store.On("DeleteRun", mock.Anything, "run_a").Return(int64(9), nil)
	store.On("DeleteRun", mock.Anything, "run_b").Return(int64(0), nil)
	job, dir := newTestJob(t, syntheticSales(40, "20MV", 0), store)

	p := liveParams()
	p.RunID = "run_a"
	_, err := job.Run(context.Background(), p)
	require.NoError(t, err)

	n, err := job.Undo(context.Background(), "run_a")
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	_, err = os.Stat(DiagnosticsPath(dir, "run_a"))
	assert.True(t, os.IsNotExist(err))

	_, err = job.Undo(context.Background(), "run_b")
	assert.True(t, analytics.IsConfigurationError(err))
}
