package models

import (
	"time"
)

// ValueTierAll is the single tier used when a segment is not split by price.
const ValueTierAll = "ALL"

// MarketGroupCountywide is the market group of models fitted across all valuation areas.
const MarketGroupCountywide = "COUNTYWIDE"

// AdjustmentCoefficient is one fitted regression term. Rows are append-only:
// a later run supersedes earlier ones by run ID, never by mutation.
type AdjustmentCoefficient struct {
	MarketGroup string    `json:"marketGroup"`
	ValueTier   string    `json:"valueTier"`
	Term        string    `json:"term"`
	Beta        float64   `json:"beta"`
	StdErr      *float64  `json:"stdErr,omitempty"`
	RunID       string    `json:"runId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AdjustmentModelSegment is the fit summary for one (market group, value tier)
// within a run. PriceMin/PriceMax record the sale-price range the tier was fitted on.
type AdjustmentModelSegment struct {
	RunID       string    `json:"runId"`
	MarketGroup string    `json:"marketGroup"`
	ValueTier   string    `json:"valueTier"`
	N           int       `json:"n"`
	R2          float64   `json:"r2"`
	COD         float64   `json:"cod"`
	PRD         float64   `json:"prd"`
	MedianRatio float64   `json:"medianRatio"`
	Predictors  []string  `json:"predictors"`
	PriceMin    float64   `json:"priceMin"`
	PriceMax    float64   `json:"priceMax"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AdjustmentRun groups everything a fit run persists so it can be written
// in a single transaction.
type AdjustmentRun struct {
	RunID        string
	CreatedAt    time.Time
	Coefficients []AdjustmentCoefficient
	Segments     []AdjustmentModelSegment
	Summary      []byte
}

// RunInfo describes a stored run for listings.
type RunInfo struct {
	RunID        string    `json:"runId"`
	CreatedAt    time.Time `json:"createdAt"`
	MarketGroups []string  `json:"marketGroups"`
	Coefficients int       `json:"coefficients"`
}
