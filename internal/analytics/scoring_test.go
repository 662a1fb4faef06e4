package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreAppeal(t *testing.T) {
	fivePrices := []float64{400000, 410000, 420000, 430000, 440000}

	tests := []struct {
		name       string
		input      AppealInput
		wantScore  int
		wantRating string
	}{
		{
			name: "well supported over-assessment",
			input: AppealInput{
				AssessedValue:  f64(510000), // ~21% over the 420k median
				AdjustedPrices: fivePrices,
				Reliability:    ReliabilityUnreliable,
				COD:            f64(19),
			},
			wantScore:  50 + 25 + 10 + 6 + 6,
			wantRating: RatingStrong,
		},
		{
			name: "assessed below market",
			input: AppealInput{
				AssessedValue:  f64(400000),
				AdjustedPrices: fivePrices,
				Reliability:    ReliabilityReliable,
				COD:            f64(7),
			},
			wantScore:  50 - 20 + 10 - 4 - 2,
			wantRating: RatingWeak,
		},
		{
			name: "moderate with three comparables",
			input: AppealInput{
				AssessedValue:  f64(450000), // ~7.1% over 420k
				AdjustedPrices: []float64{410000, 420000, 430000},
			},
			wantScore:  50 + 10 + 5,
			wantRating: RatingStrong,
		},
		{
			name: "marginal and thin",
			input: AppealInput{
				AssessedValue:  f64(425000),
				AdjustedPrices: []float64{420000},
			},
			wantScore:  50 + 2 - 15,
			wantRating: RatingWeak,
		},
		{
			name: "unknown assessment still scores depth",
			input: AppealInput{
				AdjustedPrices: fivePrices,
				Reliability:    ReliabilityLowSample,
			},
			wantScore:  50 + 10 + 6,
			wantRating: RatingStrong,
		},
		{
			name: "neighborhood differential",
			input: AppealInput{
				AssessedValue:       f64(480000),
				AdjustedPrices:      fivePrices,
				NeighborhoodDiffPct: f64(9),
			},
			wantScore:  50 + 18 + 10 + 12,
			wantRating: RatingStrong,
		},
		{
			name: "moderate band",
			input: AppealInput{
				AssessedValue:  f64(430000),
				AdjustedPrices: []float64{410000, 420000, 430000},
			},
			wantScore:  50 + 2 + 5,
			wantRating: RatingModerate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreAppeal(tt.input)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantRating, got.Rating)
			assert.LessOrEqual(t, len(got.Reasons), 4)
			assert.NotEmpty(t, got.Reasons)
		})
	}
}

func TestScoreAppeal_Clamped(t *testing.T) {
	low := ScoreAppeal(AppealInput{
		AssessedValue:       f64(100000),
		AdjustedPrices:      []float64{400000},
		NeighborhoodDiffPct: f64(-3),
		Reliability:         ReliabilityReliable,
		COD:                 f64(5),
	})
	assert.Equal(t, 0, low.Score)
	assert.Equal(t, RatingWeak, low.Rating)

	high := ScoreAppeal(AppealInput{
		AssessedValue:       f64(900000),
		AdjustedPrices:      []float64{400000, 400000, 400000, 400000, 400000},
		NeighborhoodDiffPct: f64(20),
		Reliability:         ReliabilityUnreliable,
		COD:                 f64(30),
	})
	assert.Equal(t, 100, high.Score)
	assert.Len(t, high.Reasons, 4)
}

func TestOverAssessmentPct(t *testing.T) {
	pct, median := OverAssessmentPct(f64(440000), []float64{400000, 0, 420000, -1, 380000})
	require.NotNil(t, pct)
	require.NotNil(t, median)
	assert.Equal(t, 400000.0, *median)
	assert.InDelta(t, 10.0, *pct, 1e-9)

	pct, median = OverAssessmentPct(nil, []float64{400000})
	assert.Nil(t, pct)
	assert.NotNil(t, median)

	pct, median = OverAssessmentPct(f64(1), nil)
	assert.Nil(t, pct)
	assert.Nil(t, median)
}
