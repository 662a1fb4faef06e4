package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/regression"
)

func testConfig() *config.Config {
	return &config.Config{
		Comparables: config.ComparableConfig{
			SaleWindowStart: time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
			MinSalePrice:    10000,
		},
		Regression: config.RegressionConfig{
			MinSegmentSize:    30,
			MaxStepwiseSteps:  6,
			Workers:           4,
			DefaultPredictors: regression.PredictorSetCore,
			DefaultBundle:     regression.BundleTime,
		},
	}
}

func TestFitParams_Defaults(t *testing.T) {
	p := fitOptions{}.params(testConfig())

	assert.Equal(t, regression.ModeLive, p.Mode)
	assert.Equal(t, regression.PredictorSetCore, p.PredictorSet)
	assert.Equal(t, regression.BundleTime, p.Bundle)
	assert.Equal(t, 30, p.MinSegmentSize)
	assert.Equal(t, 6, p.MaxSteps)
	assert.Equal(t, 4, p.Workers)
	assert.Empty(t, p.RunID)
	assert.Equal(t, 10000.0, p.Filter.MinSalePrice)
	assert.Equal(t, 2019, p.Filter.SaleWindowStart.Year())
}

func TestFitParams_FlagsOverride(t *testing.T) {
	opts := fitOptions{
		runID:        "trial_1",
		predictors:   regression.PredictorSetTerrain,
		bundle:       regression.BundleNone,
		experiment:   true,
		countywide:   true,
		tiered:       true,
		workers:      1,
		maxSteps:     2,
		minSegment:   50,
		neighborhood: "20MV01",
	}

	p := opts.params(testConfig())

	assert.Equal(t, regression.ModeExperiment, p.Mode)
	assert.Equal(t, "trial_1", p.RunID)
	assert.Equal(t, regression.PredictorSetTerrain, p.PredictorSet)
	assert.Equal(t, regression.BundleNone, p.Bundle)
	assert.True(t, p.Countywide)
	assert.True(t, p.Tiered)
	assert.Equal(t, 1, p.Workers)
	assert.Equal(t, 2, p.MaxSteps)
	assert.Equal(t, 50, p.MinSegmentSize)
	assert.Equal(t, "20MV01", p.Filter.NeighborhoodCode)
}

func TestSummarizeFit(t *testing.T) {
	res := &regression.Result{
		RunID: "r1",
		Mode:  regression.ModeExperiment,
		Diagnostics: &regression.Diagnostics{
			SalesLoaded: 412,
			Segments:    []regression.SegmentResult{{MarketGroup: "MOUNT_VERNON", ValueTier: "ALL"}},
		},
		DiagnosticsPath: "/tmp/r1.json",
	}

	s := summarizeFit(res)

	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, 412, s.SalesLoaded)
	assert.Equal(t, 1, s.Segments)
	assert.Equal(t, 0, s.Coefficients)
	assert.NotNil(t, s.Skipped)
}
