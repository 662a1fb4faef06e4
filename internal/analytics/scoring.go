package analytics

import (
	"fmt"
)

// Appeal ratings.
const (
	RatingWeak     = "weak"
	RatingModerate = "moderate"
	RatingStrong   = "strong"
)

const maxAppealReasons = 4

// AppealInput carries the evidence for scoring an appeal. Nil pointers mean
// the factor is unknown and contributes nothing.
type AppealInput struct {
	AssessedValue       *float64
	AdjustedPrices      []float64
	NeighborhoodDiffPct *float64
	Reliability         string
	COD                 *float64
}

// AppealScore is the result of ScoreAppeal.
type AppealScore struct {
	Score             int      `json:"score"`
	Rating            string   `json:"rating"`
	Reasons           []string `json:"reasons"`
	OverAssessmentPct *float64 `json:"overAssessmentPct,omitempty"`
	MedianAdjusted    *float64 `json:"medianAdjusted,omitempty"`
	ComparableCount   int      `json:"comparableCount"`
}

// OverAssessmentPct compares an assessed value to the median adjusted
// comparable price. It returns nil when either side is unusable.
func OverAssessmentPct(assessed *float64, adjusted []float64) (pct *float64, median *float64) {
	usable := make([]float64, 0, len(adjusted))
	for _, p := range adjusted {
		if p > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, nil
	}
	m := Median(usable)
	median = &m
	if assessed == nil || *assessed <= 0 {
		return nil, median
	}
	v := (*assessed - m) / m * 100
	return &v, median
}

// ScoreAppeal rates how strong an assessment appeal looks on a 0-100 scale.
// The score starts at 50; evidence of over-assessment, comparable depth,
// neighborhood differential and neighborhood uniformity move it up or down.
func ScoreAppeal(in AppealInput) AppealScore {
	score := 50
	var reasons []string

	over, median := OverAssessmentPct(in.AssessedValue, in.AdjustedPrices)
	if over != nil {
		pct := *over
		switch {
		case pct >= 20:
			score += 25
			reasons = append(reasons, fmt.Sprintf("Assessed value is %.0f%% above the median adjusted comparable price.", pct))
		case pct >= 12:
			score += 18
			reasons = append(reasons, "Assessed value is 12-20% above the median adjusted comparable price.")
		case pct >= 7:
			score += 10
			reasons = append(reasons, "Assessed value is 7-12% above the median adjusted comparable price.")
		case pct <= 0:
			score -= 20
			reasons = append(reasons, "Assessed value is at or below the median adjusted comparable price.")
		default:
			score += 2
			reasons = append(reasons, "Assessed value is only slightly above comparables.")
		}
	}

	count := 0
	for _, p := range in.AdjustedPrices {
		if p > 0 {
			count++
		}
	}
	switch {
	case count >= 5:
		score += 10
		reasons = append(reasons, "Five or more nearby comparable sales support the analysis.")
	case count >= 3:
		score += 5
		reasons = append(reasons, "Three or four nearby comparable sales were found.")
	default:
		score -= 15
		reasons = append(reasons, "Fewer than three usable comparable sales were found.")
	}

	if in.NeighborhoodDiffPct != nil {
		switch d := *in.NeighborhoodDiffPct; {
		case d >= 8:
			score += 12
			reasons = append(reasons, "The assessment rose far more than the neighborhood average.")
		case d >= 4:
			score += 6
			reasons = append(reasons, "The assessment rose more than the neighborhood average.")
		case d <= 0:
			score -= 10
			reasons = append(reasons, "The assessment did not rise more than the neighborhood average.")
		}
	}

	switch in.Reliability {
	case ReliabilityUnreliable, ReliabilityLowSample:
		score += 6
		reasons = append(reasons, "Neighborhood assessments are thinly sampled or inconsistent.")
	case ReliabilityReliable:
		score -= 4
		reasons = append(reasons, "Neighborhood assessments are well sampled and uniform.")
	}

	if in.COD != nil {
		switch {
		case *in.COD >= 18:
			score += 6
		case *in.COD <= 8:
			score -= 2
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	rating := RatingWeak
	switch {
	case score >= 65:
		rating = RatingStrong
	case score >= 50:
		rating = RatingModerate
	}

	if len(reasons) > maxAppealReasons {
		reasons = reasons[:maxAppealReasons]
	}

	return AppealScore{
		Score:             score,
		Rating:            rating,
		Reasons:           reasons,
		OverAssessmentPct: over,
		MedianAdjusted:    median,
		ComparableCount:   count,
	}
}
