package regression

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// minTermCoverage is the share of a segment's sales that must carry a term
// for the term to be considered at all.
const minTermCoverage = 0.9

// Value tier names produced by tertile splitting.
const (
	TierLow  = "LOW"
	TierMid  = "MID"
	TierHigh = "HIGH"
)

// TermFit is one fitted coefficient.
type TermFit struct {
	Term   string  `json:"term"`
	Beta   float64 `json:"beta"`
	StdErr float64 `json:"stdErr"`
}

// SegmentResult is the fitted model and diagnostics for one segment.
type SegmentResult struct {
	MarketGroup         string               `json:"marketGroup"`
	ValueTier           string               `json:"valueTier"`
	N                   int                  `json:"n"`
	DroppedRows         int                  `json:"droppedRows"`
	R2                  float64              `json:"r2"`
	AdjR2               float64              `json:"adjR2"`
	AIC                 float64              `json:"aic"`
	COD                 float64              `json:"cod"`
	PRD                 float64              `json:"prd"`
	MedianRatio         float64              `json:"medianRatio"`
	Predictors          []string             `json:"predictors"`
	Coefficients        []TermFit            `json:"coefficients"`
	SkippedTerms        []models.SkippedTerm `json:"skippedTerms"`
	InteractionsCreated []string             `json:"interactionsCreated"`
	PriceMin            float64              `json:"priceMin"`
	PriceMax            float64              `json:"priceMax"`
}

// SkippedSegment records a segment that was not fitted.
type SkippedSegment struct {
	MarketGroup string `json:"marketGroup"`
	ValueTier   string `json:"valueTier"`
	N           int    `json:"n"`
	Reason      string `json:"reason"`
}

type segment struct {
	MarketGroup string
	ValueTier   string
	Sales       []models.TrainingSale
}

// splitTiers returns one ALL segment, or LOW/MID/HIGH price tertiles when
// tiering is requested and each tertile can reach minSize.
func splitTiers(group string, sales []models.TrainingSale, tiered bool, minSize int) []segment {
	if !tiered || len(sales) < 3*minSize {
		return []segment{{MarketGroup: group, ValueTier: models.ValueTierAll, Sales: sales}}
	}

	sorted := append([]models.TrainingSale(nil), sales...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sale.SalePrice < sorted[j].Sale.SalePrice
	})

	n := len(sorted)
	a, b := n/3, 2*n/3
	return []segment{
		{MarketGroup: group, ValueTier: TierLow, Sales: sorted[:a]},
		{MarketGroup: group, ValueTier: TierMid, Sales: sorted[a:b]},
		{MarketGroup: group, ValueTier: TierHigh, Sales: sorted[b:]},
	}
}

type designResult struct {
	design  *Design
	prices  []float64
	skipped []models.SkippedTerm
	dropped int
}

// buildDesign evaluates terms over a segment's sales. Terms that are absent
// everywhere, too sparse, or constant are skipped with a reason; sales missing
// any remaining term are dropped.
func buildDesign(sales []models.TrainingSale, terms []string) designResult {
	n := len(sales)
	values := make(map[string][]float64, len(terms))
	present := make(map[string][]bool, len(terms))
	var res designResult

	var kept []string
	for _, term := range terms {
		vals := make([]float64, n)
		ok := make([]bool, n)
		count := 0
		for i := range sales {
			obs := analytics.Observation{Parcel: &sales[i].Parcel, AsOf: sales[i].Sale.SaleDate}
			v, err := analytics.TermValue(term, obs)
			if err == nil {
				vals[i] = v
				ok[i] = true
				count++
			}
		}
		switch {
		case count == 0:
			res.skipped = append(res.skipped, models.SkippedTerm{Term: term, Reason: "missing for all sales"})
			continue
		case float64(count) < minTermCoverage*float64(n):
			res.skipped = append(res.skipped, models.SkippedTerm{
				Term:   term,
				Reason: fmt.Sprintf("present for only %d of %d sales", count, n),
			})
			continue
		}
		values[term] = vals
		present[term] = ok
		kept = append(kept, term)
	}

	rows := make([]int, 0, n)
	for i, s := range sales {
		if s.Sale.SalePrice <= 0 {
			continue
		}
		complete := true
		for _, term := range kept {
			if !present[term][i] {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}
	res.dropped = n - len(rows)

	d := &Design{Columns: make(map[string][]float64, len(kept)), Y: make([]float64, len(rows))}
	res.prices = make([]float64, len(rows))
	for r, i := range rows {
		res.prices[r] = sales[i].Sale.SalePrice
		d.Y[r] = math.Log(sales[i].Sale.SalePrice)
	}
	for _, term := range kept {
		col := make([]float64, len(rows))
		for r, i := range rows {
			col[r] = values[term][i]
		}
		if len(col) > 1 && stat.Variance(col, nil) <= 1e-12 {
			res.skipped = append(res.skipped, models.SkippedTerm{Term: term, Reason: "zero variance"})
			continue
		}
		d.Columns[term] = col
	}
	res.design = d
	return res
}

// fitSegment runs model selection on one segment and computes its in-sample
// diagnostics.
func fitSegment(ctx context.Context, seg segment, spec ModelSpec, minSize, maxSteps int) (*SegmentResult, *SkippedSegment) {
	terms := append(append([]string(nil), spec.Forced...), spec.AllCandidates()...)
	dr := buildDesign(seg.Sales, dedupe(terms))

	if len(dr.design.Y) < minSize {
		return nil, &SkippedSegment{
			MarketGroup: seg.MarketGroup,
			ValueTier:   seg.ValueTier,
			N:           len(dr.design.Y),
			Reason:      fmt.Sprintf("only %d usable sales, need %d", len(dr.design.Y), minSize),
		}
	}

	selected, fit, err := ForwardStepwise(ctx, dr.design, spec.Forced, spec.AllCandidates(), maxSteps)
	if err != nil {
		return nil, &SkippedSegment{
			MarketGroup: seg.MarketGroup,
			ValueTier:   seg.ValueTier,
			N:           len(dr.design.Y),
			Reason:      err.Error(),
		}
	}

	res := &SegmentResult{
		MarketGroup:  seg.MarketGroup,
		ValueTier:    seg.ValueTier,
		N:            fit.N,
		DroppedRows:  dr.dropped,
		R2:           fit.R2,
		AdjR2:        fit.AdjR2,
		AIC:          fit.AIC,
		Predictors:   selected,
		SkippedTerms: dr.skipped,
		PriceMin:     floats.Min(dr.prices),
		PriceMax:     floats.Max(dr.prices),
	}
	for i, term := range fit.Terms {
		se := fit.StdErr[i]
		if math.IsNaN(se) || math.IsInf(se, 0) {
			se = 0
		}
		res.Coefficients = append(res.Coefficients, TermFit{Term: term, Beta: fit.Beta[i], StdErr: se})
	}
	for _, term := range spec.Interactions {
		if _, ok := dr.design.Columns[term]; ok {
			res.InteractionsCreated = append(res.InteractionsCreated, term)
		}
	}

	pairs := make([]analytics.RatioPair, len(fit.Fitted))
	for i, f := range fit.Fitted {
		pairs[i] = analytics.RatioPair{Assessed: math.Exp(f), Price: dr.prices[i]}
	}
	if m, err := analytics.ComputeRatioMetrics(pairs, analytics.DefaultRatioOptions()); err == nil {
		res.COD = m.COD
		res.PRD = m.PRD
		res.MedianRatio = m.MedianRatio
	}

	return res, nil
}

func dedupe(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
