package analytics

import (
	"math"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// SelectTier picks the value tier whose fitted price range contains price.
// When no range contains it, the tier with the nearest range wins; ties go
// to the lower tier. A lone segment (typically ALL) always applies. Returns
// "" when segments is empty.
func SelectTier(segments []models.AdjustmentModelSegment, price float64) string {
	switch len(segments) {
	case 0:
		return ""
	case 1:
		return segments[0].ValueTier
	}

	best := ""
	bestDist := math.Inf(1)
	bestMin := math.Inf(1)
	for _, s := range segments {
		if s.ValueTier == models.ValueTierAll {
			return s.ValueTier
		}
		var dist float64
		switch {
		case price < s.PriceMin:
			dist = s.PriceMin - price
		case price > s.PriceMax:
			dist = price - s.PriceMax
		}
		if dist < bestDist || (dist == bestDist && s.PriceMin < bestMin) {
			best = s.ValueTier
			bestDist = dist
			bestMin = s.PriceMin
		}
	}
	return best
}
