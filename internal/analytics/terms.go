package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// TimeEpoch is the origin of the "t" (market time) term.
var TimeEpoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// daysPerMonth converts elapsed days to months for the "t" term.
const daysPerMonth = 30.4375

// InteractionSeparator joins base term names into an interaction term name.
const InteractionSeparator = "_x_"

// Observation is a parcel viewed at a point in time: the sale date for a
// comparable, the valuation date for a subject.
type Observation struct {
	Parcel *models.Parcel
	AsOf   time.Time
}

type termFunc func(obs Observation) (float64, bool)

var baseTerms = map[string]termFunc{
	"living_area": func(o Observation) (float64, bool) {
		return positive(o.Parcel.LivingArea)
	},
	"log_area": func(o Observation) (float64, bool) {
		v, ok := positive(o.Parcel.LivingArea)
		if !ok {
			return 0, false
		}
		return math.Log(v), true
	},
	"lot_acres": func(o Observation) (float64, bool) {
		return nonNegative(o.Parcel.LotAcres)
	},
	"log_lot": func(o Observation) (float64, bool) {
		v, ok := nonNegative(o.Parcel.LotAcres)
		if !ok {
			return 0, false
		}
		return math.Log1p(v), true
	},
	"age": func(o Observation) (float64, bool) {
		return ageAt(o.Parcel.YearBuilt, o.AsOf)
	},
	"log_age": func(o Observation) (float64, bool) {
		v, ok := ageAt(o.Parcel.YearBuilt, o.AsOf)
		if !ok {
			return 0, false
		}
		return math.Log1p(v), true
	},
	"effective_age": func(o Observation) (float64, bool) {
		return ageAt(o.Parcel.EffectiveYearBuilt, o.AsOf)
	},
	"bedrooms": func(o Observation) (float64, bool) {
		if o.Parcel.Bedrooms == nil || *o.Parcel.Bedrooms < 0 {
			return 0, false
		}
		return float64(*o.Parcel.Bedrooms), true
	},
	"bathrooms": func(o Observation) (float64, bool) {
		return nonNegative(o.Parcel.Bathrooms)
	},
	"quality_score": func(o Observation) (float64, bool) {
		return finite(o.Parcel.QualityScore)
	},
	"condition_score": func(o Observation) (float64, bool) {
		return finite(o.Parcel.ConditionScore)
	},
	"has_garage": func(o Observation) (float64, bool) {
		return indicator(o.Parcel.HasGarage)
	},
	"has_basement": func(o Observation) (float64, bool) {
		return indicator(o.Parcel.HasBasement)
	},
	"is_view": func(o Observation) (float64, bool) {
		return indicator(o.Parcel.IsView)
	},
	"in_flood_zone": func(o Observation) (float64, bool) {
		return indicator(o.Parcel.InFloodZone)
	},
	"elevation": func(o Observation) (float64, bool) {
		return finite(o.Parcel.Elevation)
	},
	"slope": func(o Observation) (float64, bool) {
		return finite(o.Parcel.Slope)
	},
	"t": func(o Observation) (float64, bool) {
		if o.AsOf.IsZero() {
			return 0, false
		}
		return MonthsSinceEpoch(o.AsOf), true
	},
}

// MonthsSinceEpoch returns the "t" term value for a date.
func MonthsSinceEpoch(at time.Time) float64 {
	return at.Sub(TimeEpoch).Hours() / 24 / daysPerMonth
}

// BaseTerms returns the registered base term names, sorted.
func BaseTerms() []string {
	names := make([]string, 0, len(baseTerms))
	for name := range baseTerms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsIgnoredTerm reports terms that never produce a comparable adjustment:
// the intercept, per-property-type dummies and missing-value indicators.
func IsIgnoredTerm(name string) bool {
	switch name {
	case "const", "missing_quality", "missing_condition":
		return true
	}
	return strings.HasPrefix(name, "pt_")
}

// InteractionName joins base terms into an interaction term name.
func InteractionName(parts ...string) string {
	return strings.Join(parts, InteractionSeparator)
}

// SplitTerm returns the base terms making up name (one element for a base term).
func SplitTerm(name string) []string {
	return strings.Split(name, InteractionSeparator)
}

// IsKnownTerm reports whether every component of name is a registered base term.
func IsKnownTerm(name string) bool {
	for _, part := range SplitTerm(name) {
		if _, ok := baseTerms[part]; !ok {
			return false
		}
	}
	return true
}

// TermValue evaluates a base or interaction term for an observation.
// Missing inputs return a *DataQualityError; unknown terms a *ConfigurationError.
func TermValue(name string, obs Observation) (float64, error) {
	if obs.Parcel == nil {
		return 0, &DataQualityError{Field: name, Reason: "has no parcel"}
	}

	value := 1.0
	for _, part := range SplitTerm(name) {
		fn, ok := baseTerms[part]
		if !ok {
			return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown term %q", name)}
		}
		v, ok := fn(obs)
		if !ok {
			return 0, &DataQualityError{
				ParcelNumber: obs.Parcel.ParcelNumber,
				Field:        part,
				Reason:       "is missing or invalid",
			}
		}
		value *= v
	}
	return value, nil
}

func positive(v *float64) (float64, bool) {
	if v == nil || *v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

func nonNegative(v *float64) (float64, bool) {
	if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

func finite(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

func indicator(v *bool) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if *v {
		return 1, true
	}
	return 0, true
}

func ageAt(year *int, asOf time.Time) (float64, bool) {
	if year == nil || *year <= 0 || asOf.IsZero() {
		return 0, false
	}
	age := asOf.Year() - *year
	if age < 0 {
		age = 0
	}
	return float64(age), true
}
