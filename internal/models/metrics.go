package models

import (
	"encoding/json"
	"time"
)

// NeighborhoodMetrics is the stored ratio study for one (neighborhood code, year).
type NeighborhoodMetrics struct {
	NeighborhoodCode string    `json:"neighborhoodCode"`
	Year             int       `json:"year"`
	SalesRatio       float64   `json:"salesRatio"`
	MedianRatio      float64   `json:"medianRatio"`
	COD              float64   `json:"cod"`
	PRD              float64   `json:"prd"`
	SampleSize       int       `json:"sampleSize"`
	Reliability      string    `json:"reliability"`
	VerticalEquity   string    `json:"verticalEquity"`
	Dropped          int       `json:"dropped"`
	Trimmed          int       `json:"trimmed"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CacheKey identifies one cached comparable search.
type CacheKey struct {
	ParcelNumber string
	RollYear     int
	RadiusMeters float64
	Limit        int
	Filters      string // ComparableFilters.Fingerprint
}

// CacheEntry is a cached comparable search payload with its refresh time.
type CacheEntry struct {
	Key           CacheKey
	Payload       json.RawMessage
	LastRefreshed time.Time
}
