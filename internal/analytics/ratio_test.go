package analytics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairsFromRatios(ratios ...float64) []RatioPair {
	out := make([]RatioPair, len(ratios))
	for i, r := range ratios {
		out[i] = RatioPair{Assessed: r * 100000, Price: 100000}
	}
	return out
}

func TestComputeRatioMetrics_UniformNeighborhood(t *testing.T) {
	m, err := ComputeRatioMetrics(pairsFromRatios(0.92, 0.95, 1.00, 1.05, 1.10), DefaultRatioOptions())
	require.NoError(t, err)

	assert.InDelta(t, 1.00, m.MedianRatio, 1e-12)
	assert.InDelta(t, 1.004, m.SalesRatio, 1e-12)
	// Absolute deviations from the median: .08 .05 0 .05 .10, mean .056.
	assert.InDelta(t, 5.6, m.COD, 1e-9)
	assert.Equal(t, 5, m.SampleSize)
	assert.Equal(t, ReliabilityReliable, m.Reliability)
	// Equal prices make the weighted mean equal the simple mean.
	assert.InDelta(t, 1.0, m.PRD, 1e-12)
	assert.Equal(t, EquityNeutral, m.VerticalEquity)
}

func TestComputeRatioMetrics_RegressiveAssessment(t *testing.T) {
	pairs := []RatioPair{
		{ParcelNumber: "L1", Assessed: 110000, Price: 100000},
		{ParcelNumber: "L2", Assessed: 132000, Price: 120000},
		{ParcelNumber: "H1", Assessed: 475000, Price: 500000},
		{ParcelNumber: "H2", Assessed: 570000, Price: 600000},
	}

	m, err := ComputeRatioMetrics(pairs, DefaultRatioOptions())
	require.NoError(t, err)

	assert.InDelta(t, 1.025, m.SalesRatio, 1e-12)
	assert.InDelta(t, (110000.0+132000+475000+570000)/(100000+120000+500000+600000), m.WeightedMeanRatio, 1e-12)
	assert.Less(t, m.WeightedMeanRatio, m.SalesRatio)
	assert.Greater(t, m.PRD, 1.03)
	assert.Equal(t, EquityRegressive, m.VerticalEquity)
	assert.Equal(t, ReliabilityLowSample, m.Reliability)
}

func TestComputeRatioMetrics_SingleSale(t *testing.T) {
	m, err := ComputeRatioMetrics(pairsFromRatios(0.97), DefaultRatioOptions())
	require.NoError(t, err)

	assert.Zero(t, m.COD)
	assert.Equal(t, 1, m.SampleSize)
	assert.Equal(t, ReliabilityLowSample, m.Reliability)

	// Even with the sample threshold disabled a single sale is never reliable.
	opts := DefaultRatioOptions()
	opts.LowSample = 0
	m, err = ComputeRatioMetrics(pairsFromRatios(0.97), opts)
	require.NoError(t, err)
	assert.NotEqual(t, ReliabilityReliable, m.Reliability)
}

func TestComputeRatioMetrics_NoSales(t *testing.T) {
	_, err := ComputeRatioMetrics(nil, DefaultRatioOptions())

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, IsInsufficientData(err))
}

func TestComputeRatioMetrics_DropsNonFiniteRatios(t *testing.T) {
	pairs := append(pairsFromRatios(0.95, 1.0, 1.05),
		RatioPair{ParcelNumber: "ZERO", Assessed: 250000, Price: 0},
		RatioPair{ParcelNumber: "NAN", Assessed: math.NaN(), Price: 100000},
		RatioPair{ParcelNumber: "NEG", Assessed: 250000, Price: -5},
	)

	m, err := ComputeRatioMetrics(pairs, DefaultRatioOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, m.SampleSize)
	assert.Equal(t, 3, m.Dropped)
	assert.False(t, math.IsNaN(m.COD) || math.IsInf(m.PRD, 0))

	_, err = ComputeRatioMetrics([]RatioPair{{Assessed: 1, Price: 0}}, DefaultRatioOptions())
	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Dropped)
}

func TestComputeRatioMetrics_Trimming(t *testing.T) {
	opts := DefaultRatioOptions()
	opts.TrimLow = 0.25
	opts.TrimHigh = 2.5

	m, err := ComputeRatioMetrics(pairsFromRatios(0.1, 0.9, 1.0, 1.1, 3.0), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, m.SampleSize)
	assert.Equal(t, 2, m.Trimmed)
	assert.InDelta(t, 1.0, m.MedianRatio, 1e-12)
}

func TestComputeRatioMetrics_OrderInvariant(t *testing.T) {
	pairs := []RatioPair{
		{Assessed: 310000, Price: 295000},
		{Assessed: 280000, Price: 301000},
		{Assessed: 455000, Price: 420000},
		{Assessed: 199000, Price: 240000},
		{Assessed: 612000, Price: 590000},
		{Assessed: 350000, Price: 333000},
		{Assessed: 275000, Price: 0},
	}
	want, err := ComputeRatioMetrics(pairs, DefaultRatioOptions())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]RatioPair(nil), pairs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := ComputeRatioMetrics(shuffled, DefaultRatioOptions())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Fatalf("metrics changed under reordering (-want +got):\n%s", diff)
		}
	}
}

func TestClassifyReliability(t *testing.T) {
	opts := DefaultRatioOptions()
	tests := []struct {
		name string
		n    int
		cod  float64
		want string
	}{
		{"below sample threshold", 4, 10, ReliabilityLowSample},
		{"in band", 5, 10, ReliabilityReliable},
		{"band edges inclusive", 12, 15, ReliabilityReliable},
		{"too uniform", 20, 3.5, ReliabilityUnreliable},
		{"too dispersed", 20, 22, ReliabilityUnreliable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyReliability(tt.n, tt.cod, opts))
		})
	}
}

func TestClassifyVerticalEquity(t *testing.T) {
	opts := DefaultRatioOptions()
	assert.Equal(t, EquityRegressive, ClassifyVerticalEquity(1.05, opts))
	assert.Equal(t, EquityProgressive, ClassifyVerticalEquity(0.97, opts))
	assert.Equal(t, EquityNeutral, ClassifyVerticalEquity(1.0, opts))
	assert.Equal(t, EquityNeutral, ClassifyVerticalEquity(1.03, opts))
}

func TestMedian(t *testing.T) {
	values := []float64{3, 1, 2, 4}
	assert.Equal(t, 2.5, Median(values))
	assert.Equal(t, []float64{3, 1, 2, 4}, values, "input must not be reordered")
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.True(t, math.IsNaN(Median(nil)))
}
