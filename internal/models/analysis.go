package models

import (
	"time"
)

// Adjustment sources for an itemized line.
const (
	AdjustmentSourceAuto   = "auto"
	AdjustmentSourceManual = "manual"
)

// TermEffect is the automatic log-space effect of one coefficient term on a
// comparable: Effect = Beta * (SubjectValue - ComparableValue).
type TermEffect struct {
	Term            string  `json:"term"`
	Beta            float64 `json:"beta"`
	SubjectValue    float64 `json:"subjectValue"`
	ComparableValue float64 `json:"comparableValue"`
	Effect          float64 `json:"effect"`
}

// ItemizedAdjustment is one active line of an adjusted sale price.
// Pct is the log-space effect in percent; Dollars is the sequential dollar
// attribution so that all lines sum to AdjustedPrice - RawPrice.
type ItemizedAdjustment struct {
	Term    string   `json:"term"`
	Source  string   `json:"source"`
	AutoPct *float64 `json:"autoPct,omitempty"`
	Pct     float64  `json:"pct"`
	Dollars float64  `json:"dollars"`
}

// SkippedTerm records a coefficient term that contributed nothing, and why.
type SkippedTerm struct {
	Term   string `json:"term"`
	Reason string `json:"reason"`
}

// Analysis is a saved appeal analysis: the subject, the search that produced
// its comparables and the model run used to adjust them.
type Analysis struct {
	ID                string                `gorm:"primaryKey;size:36" json:"id"`
	SubjectParcel     string                `gorm:"size:64;index;not null;column:subject_parcel" json:"subjectParcel"`
	RollYear          int                   `gorm:"column:roll_year" json:"rollYear"`
	MarketGroup       string                `gorm:"size:64;column:market_group" json:"marketGroup"`
	RunID             string                `gorm:"size:32;column:run_id" json:"runId"`
	RadiusMeters      float64               `gorm:"column:radius_meters" json:"radiusMeters"`
	FinalRadiusMeters float64               `gorm:"column:final_radius_meters" json:"finalRadiusMeters"`
	Limit             int                   `gorm:"column:comparable_limit" json:"limit"`
	SubjectAssessed   *float64              `gorm:"column:subject_assessed" json:"subjectAssessed,omitempty"`
	CreatedAt         time.Time             `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt         time.Time             `gorm:"column:updated_at" json:"updatedAt"`
	Selections        []ComparableSelection `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"selections"`
}

// TableName specifies the table name for GORM.
func (Analysis) TableName() string {
	return "appeal_analyses"
}

// ComparableSelection is one candidate comparable within an analysis.
type ComparableSelection struct {
	ID                uint                 `gorm:"primaryKey" json:"id"`
	AnalysisID        string               `gorm:"size:36;index;not null;column:analysis_id" json:"analysisId"`
	ParcelNumber      string               `gorm:"size:64;not null;column:parcel_number" json:"parcelNumber"`
	SaleDate          time.Time            `gorm:"column:sale_date" json:"saleDate"`
	DistanceMeters    float64              `gorm:"column:distance_meters" json:"distanceMeters"`
	ValueTier         string               `gorm:"size:16;column:value_tier" json:"valueTier"`
	RawPrice          float64              `gorm:"column:raw_price" json:"rawPrice"`
	AdjustedPrice     float64              `gorm:"column:adjusted_price" json:"adjustedPrice"`
	GrossPct          float64              `gorm:"column:gross_pct" json:"grossPct"`
	NetPct            float64              `gorm:"column:net_pct" json:"netPct"`
	AutoEffects       []TermEffect         `gorm:"serializer:json;column:auto_effects" json:"-"`
	AutoAdjustments   map[string]float64   `gorm:"serializer:json;column:auto_adjustments" json:"autoAdjustments"`
	ManualAdjustments map[string]float64   `gorm:"serializer:json;column:manual_adjustments" json:"manualAdjustments"`
	Itemization       []ItemizedAdjustment `gorm:"serializer:json;column:itemization" json:"itemization"`
	SkippedTerms      []SkippedTerm        `gorm:"serializer:json;column:skipped_terms" json:"skippedTerms"`
	Included          bool                 `gorm:"not null;column:included" json:"included"`
	Rank              int                  `gorm:"column:selection_rank" json:"rank"`
}

// TableName specifies the table name for GORM.
func (ComparableSelection) TableName() string {
	return "comparable_selections"
}
