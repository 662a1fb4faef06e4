package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reliability labels.
const (
	ReliabilityReliable   = "reliable"
	ReliabilityLowSample  = "low sample"
	ReliabilityUnreliable = "unreliable"
)

// Vertical equity labels derived from PRD.
const (
	EquityRegressive  = "regressive"
	EquityProgressive = "progressive"
	EquityNeutral     = "neutral"
)

// RatioPair is one assessed value against its (adjusted or raw) sale price.
type RatioPair struct {
	ParcelNumber string
	Assessed     float64
	Price        float64
}

// RatioOptions are the thresholds applied by ComputeRatioMetrics.
// Trimming is disabled when TrimHigh is zero.
type RatioOptions struct {
	LowSample int
	CODMin    float64
	CODMax    float64
	PRDMin    float64
	PRDMax    float64
	TrimLow   float64
	TrimHigh  float64
}

// DefaultRatioOptions returns IAAO bands without trimming.
func DefaultRatioOptions() RatioOptions {
	return RatioOptions{
		LowSample: 5,
		CODMin:    5,
		CODMax:    15,
		PRDMin:    0.98,
		PRDMax:    1.03,
	}
}

// RatioMetrics summarizes assessment level, uniformity and vertical equity.
// SalesRatio is the mean of per-record ratios.
type RatioMetrics struct {
	SalesRatio        float64 `json:"salesRatio"`
	MedianRatio       float64 `json:"medianRatio"`
	WeightedMeanRatio float64 `json:"weightedMeanRatio"`
	COD               float64 `json:"cod"`
	PRD               float64 `json:"prd"`
	SampleSize        int     `json:"sampleSize"`
	Dropped           int     `json:"dropped"`
	Trimmed           int     `json:"trimmed"`
	Reliability       string  `json:"reliability"`
	VerticalEquity    string  `json:"verticalEquity"`
}

// ComputeRatioMetrics computes the ratio study for pairs. Records whose
// ratio is not finite or not positive are dropped and counted; ratios outside
// the trim band are counted as trimmed. When nothing usable remains it
// returns an *InsufficientDataError. The result does not depend on the order
// of pairs.
func ComputeRatioMetrics(pairs []RatioPair, opts RatioOptions) (*RatioMetrics, error) {
	var (
		ratios   []float64
		assessed []float64
		prices   []float64
		dropped  int
		trimmed  int
	)

	for _, p := range pairs {
		r := p.Assessed / p.Price
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 || p.Price <= 0 {
			dropped++
			continue
		}
		if opts.TrimHigh > 0 && (r < opts.TrimLow || r > opts.TrimHigh) {
			trimmed++
			continue
		}
		ratios = append(ratios, r)
		assessed = append(assessed, p.Assessed)
		prices = append(prices, p.Price)
	}

	n := len(ratios)
	if n == 0 {
		return nil, &InsufficientDataError{Scope: "ratio study", Required: 1, Dropped: dropped, Trimmed: trimmed}
	}

	median := Median(ratios)
	mean := stat.Mean(ratios, nil)
	weighted := floats.Sum(assessed) / floats.Sum(prices)

	var absDev float64
	for _, r := range ratios {
		absDev += math.Abs(r - median)
	}
	cod := 100 * (absDev / float64(n)) / median
	prd := mean / weighted

	m := &RatioMetrics{
		SalesRatio:        mean,
		MedianRatio:       median,
		WeightedMeanRatio: weighted,
		COD:               cod,
		PRD:               prd,
		SampleSize:        n,
		Dropped:           dropped,
		Trimmed:           trimmed,
	}
	m.Reliability = ClassifyReliability(n, cod, opts)
	m.VerticalEquity = ClassifyVerticalEquity(prd, opts)
	return m, nil
}

// ClassifyReliability labels a study: "low sample" below the sample threshold
// (and always for a single sale), "unreliable" when COD is outside the band,
// otherwise "reliable".
func ClassifyReliability(n int, cod float64, opts RatioOptions) string {
	if n < 2 || n < opts.LowSample {
		return ReliabilityLowSample
	}
	if cod < opts.CODMin || cod > opts.CODMax {
		return ReliabilityUnreliable
	}
	return ReliabilityReliable
}

// ClassifyVerticalEquity labels PRD against the band.
func ClassifyVerticalEquity(prd float64, opts RatioOptions) string {
	switch {
	case prd > opts.PRDMax:
		return EquityRegressive
	case prd < opts.PRDMin:
		return EquityProgressive
	default:
		return EquityNeutral
	}
}

// Median returns the median of values without modifying them. The median of
// an even-length slice is the mean of the two middle values; an empty slice
// yields NaN.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
