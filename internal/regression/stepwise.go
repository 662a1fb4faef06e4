package regression

import (
	"context"
	"fmt"
)

// aicTolerance is the minimum AIC improvement for a candidate to be accepted.
const aicTolerance = 1e-6

// Design holds the regressor columns available to model selection.
type Design struct {
	Columns map[string][]float64
	Y       []float64
}

func (d *Design) columns(names []string) [][]float64 {
	out := make([][]float64, len(names))
	for i, name := range names {
		out[i] = d.Columns[name]
	}
	return out
}

// ForwardStepwise forces the given terms in, then greedily adds the candidate
// that lowers AIC the most until no candidate improves it or maxSteps is
// reached. Candidates whose fit fails (e.g. collinear) are passed over.
func ForwardStepwise(ctx context.Context, d *Design, forced, candidates []string, maxSteps int) ([]string, *OLSResult, error) {
	selected := make([]string, 0, len(forced)+len(candidates))
	for _, term := range forced {
		if _, ok := d.Columns[term]; ok {
			selected = append(selected, term)
		}
	}
	remaining := make([]string, 0, len(candidates))
	for _, term := range candidates {
		if _, ok := d.Columns[term]; ok && !contains(selected, term) && !contains(remaining, term) {
			remaining = append(remaining, term)
		}
	}

	best, err := FitOLS(selected, d.columns(selected), d.Y)
	if err != nil {
		return nil, nil, fmt.Errorf("base model fit failed: %w", err)
	}

	for step := 0; step < maxSteps && len(remaining) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		bestIdx := -1
		var bestFit *OLSResult
		for i, cand := range remaining {
			trial := append(append([]string(nil), selected...), cand)
			fit, err := FitOLS(trial, d.columns(trial), d.Y)
			if err != nil {
				continue
			}
			threshold := best.AIC
			if bestFit != nil {
				threshold = bestFit.AIC
			}
			if fit.AIC+aicTolerance < threshold {
				bestIdx = i
				bestFit = fit
			}
		}
		if bestIdx < 0 {
			break
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		best = bestFit
	}

	return selected, best, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
