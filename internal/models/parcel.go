package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// SaleTypeValid is the only sale type eligible for analysis (arms-length market sales).
const SaleTypeValid = "VALID SALE"

// Parcel represents one assessor record for a roll year.
// All nullable attributes use pointers to distinguish between zero values and NULL.
type Parcel struct {
	ParcelNumber       string   `json:"parcelNumber"`
	RollYear           int      `json:"rollYear"`
	Location           *Point   `json:"location,omitempty"`
	Address            *string  `json:"address,omitempty"`
	LandUseCode        string   `json:"landUseCode"`
	NeighborhoodCode   string   `json:"neighborhoodCode"`
	LivingArea         *float64 `json:"livingArea,omitempty"`
	LotAcres           *float64 `json:"lotAcres,omitempty"`
	Bedrooms           *int     `json:"bedrooms,omitempty"`
	Bathrooms          *float64 `json:"bathrooms,omitempty"`
	YearBuilt          *int     `json:"yearBuilt,omitempty"`
	EffectiveYearBuilt *int     `json:"effectiveYearBuilt,omitempty"`
	ConditionCode      *string  `json:"conditionCode,omitempty"`
	ConditionScore     *float64 `json:"conditionScore,omitempty"`
	QualityScore       *float64 `json:"qualityScore,omitempty"`
	HasGarage          *bool    `json:"hasGarage,omitempty"`
	GarageType         *string  `json:"garageType,omitempty"`
	HasBasement        *bool    `json:"hasBasement,omitempty"`
	IsView             *bool    `json:"isView,omitempty"`
	InFloodZone        *bool    `json:"inFloodZone,omitempty"`
	Elevation          *float64 `json:"elevation,omitempty"`
	Slope              *float64 `json:"slope,omitempty"`
	AssessedValue      *float64 `json:"assessedValue,omitempty"`
}

// HasLocation reports whether the parcel carries a usable centroid.
func (p *Parcel) HasLocation() bool {
	return p != nil && p.Location != nil && p.Location.Valid()
}

// Sale is a recorded transaction tied to one parcel and roll year.
type Sale struct {
	ID           int64     `json:"id"`
	ParcelNumber string    `json:"parcelNumber"`
	RollYear     int       `json:"rollYear"`
	SalePrice    float64   `json:"salePrice"`
	SaleDate     time.Time `json:"saleDate"`
	SaleType     string    `json:"saleType"`
	DeedType     *string   `json:"deedType,omitempty"`
}

// IsValid reports whether the sale is an arms-length market transaction.
func (s Sale) IsValid() bool {
	return strings.EqualFold(strings.TrimSpace(s.SaleType), SaleTypeValid)
}

// SaleCandidate is a sold parcel returned by a radius search, with its
// great-circle distance from the subject.
type SaleCandidate struct {
	Parcel         Parcel  `json:"parcel"`
	Sale           Sale    `json:"sale"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// ComparableFilters narrows a comparable search beyond radius and land use.
// Nil and empty fields do not filter. Sale dates compare by calendar day, so
// SaleDateMax includes sales on that day.
type ComparableFilters struct {
	SaleDateMin  *time.Time `json:"saleDateMin,omitempty"`
	SaleDateMax  *time.Time `json:"saleDateMax,omitempty"`
	PropertyType string     `json:"propertyType,omitempty"`
	MinPrice     *float64   `json:"minPrice,omitempty"`
	MaxPrice     *float64   `json:"maxPrice,omitempty"`
	MinBedrooms  *int       `json:"minBedrooms,omitempty"`
	MinBathrooms *float64   `json:"minBathrooms,omitempty"`
	Exclude      []string   `json:"exclude,omitempty"`
}

// IsZero reports whether no filter is set.
func (f ComparableFilters) IsZero() bool {
	return f.Fingerprint() == ""
}

// ExcludedParcels returns the normalized excluded parcel numbers, sorted and
// deduplicated. Never nil.
func (f ComparableFilters) ExcludedParcels() []string {
	out := make([]string, 0, len(f.Exclude))
	seen := make(map[string]bool, len(f.Exclude))
	for _, p := range f.Exclude {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Fingerprint is a canonical encoding of the set filters, "" when none are
// set. Equal filters always produce equal fingerprints.
func (f ComparableFilters) Fingerprint() string {
	var parts []string
	day := func(t *time.Time) string { return t.Format(time.DateOnly) }
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	if f.SaleDateMin != nil {
		parts = append(parts, "from="+day(f.SaleDateMin))
	}
	if f.SaleDateMax != nil {
		parts = append(parts, "to="+day(f.SaleDateMax))
	}
	if t := strings.ToUpper(strings.TrimSpace(f.PropertyType)); t != "" {
		parts = append(parts, "type="+t)
	}
	if f.MinPrice != nil {
		parts = append(parts, "pmin="+num(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		parts = append(parts, "pmax="+num(*f.MaxPrice))
	}
	if f.MinBedrooms != nil {
		parts = append(parts, "beds="+strconv.Itoa(*f.MinBedrooms))
	}
	if f.MinBathrooms != nil {
		parts = append(parts, "baths="+num(*f.MinBathrooms))
	}
	if ex := f.ExcludedParcels(); len(ex) > 0 {
		parts = append(parts, "exclude="+strings.Join(ex, ","))
	}
	return strings.Join(parts, ";")
}

// SaleSearch is the filter for one radius query around a subject parcel.
type SaleSearch struct {
	SubjectParcel   string
	Center          Point
	RadiusMeters    float64
	LandUseCodes    []string
	SaleWindowStart time.Time
	MinSalePrice    float64
	Filters         ComparableFilters
	Limit           int
}

// SaleFilter restricts which valid sales are loaded for fitting or ratio studies.
// Zero RollYear and empty NeighborhoodCode mean no restriction.
type SaleFilter struct {
	SaleWindowStart  time.Time
	MinSalePrice     float64
	RollYear         int
	NeighborhoodCode string
}

// TrainingSale is one valid sale joined to its parcel attributes and
// assessment, used by the regression job and ratio studies.
type TrainingSale struct {
	Parcel Parcel
	Sale   Sale
}
