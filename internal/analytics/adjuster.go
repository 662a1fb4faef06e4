package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// Adjustments are log-linear multiplicative. The regression job fits
// ln(sale price), so each term contributes a log-space effect
// beta * (subject - comparable), effects add, and
//
//	adjusted = raw * exp(sum of active effects)
//
// A manual override replaces the automatic effect of its term. Manual values
// and itemized Pct values are the log-space effect expressed in percent.

// Coefficient is one fitted term.
type Coefficient struct {
	Beta   float64
	StdErr *float64
}

// CoefficientSet is the model used to adjust one comparable: all terms of one
// (market group, value tier, run).
type CoefficientSet struct {
	MarketGroup string
	ValueTier   string
	RunID       string
	Terms       map[string]Coefficient
}

// NewCoefficientSet builds a set from stored coefficient rows. The rows must
// all belong to one model; identity fields are taken from the first row.
func NewCoefficientSet(rows []models.AdjustmentCoefficient) CoefficientSet {
	set := CoefficientSet{Terms: make(map[string]Coefficient, len(rows))}
	for i, row := range rows {
		if i == 0 {
			set.MarketGroup = row.MarketGroup
			set.ValueTier = row.ValueTier
			set.RunID = row.RunID
		}
		set.Terms[row.Term] = Coefficient{Beta: row.Beta, StdErr: row.StdErr}
	}
	return set
}

// AdjustedResult is an adjusted comparable sale price with its itemization.
type AdjustedResult struct {
	RawPrice      float64                     `json:"rawPrice"`
	AdjustedPrice float64                     `json:"adjustedPrice"`
	LogAdjustment float64                     `json:"logAdjustment"`
	GrossPct      float64                     `json:"grossPct"`
	NetPct        float64                     `json:"netPct"`
	AutoEffects   []models.TermEffect         `json:"autoEffects"`
	Items         []models.ItemizedAdjustment `json:"items"`
	Skipped       []models.SkippedTerm        `json:"skipped"`
}

// Adjust normalizes a comparable's sale price to the subject. It has no side
// effects. Terms whose inputs are missing on either side are skipped and
// listed in Skipped; an error is returned only when the price itself is
// unusable or the result is not finite.
func Adjust(comp models.SaleCandidate, subject Observation, coefs CoefficientSet, manual map[string]float64) (AdjustedResult, error) {
	compObs := Observation{Parcel: &comp.Parcel, AsOf: comp.Sale.SaleDate}
	effects, skipped := AutoEffects(compObs, subject, coefs)

	result, err := Combine(comp.Parcel.ParcelNumber, comp.Sale.SalePrice, effects, manual)
	if err != nil {
		return AdjustedResult{}, err
	}
	result.Skipped = skipped
	return result, nil
}

// AutoEffects computes the automatic effect of every usable coefficient term,
// sorted by term name.
func AutoEffects(comp, subject Observation, coefs CoefficientSet) ([]models.TermEffect, []models.SkippedTerm) {
	terms := make([]string, 0, len(coefs.Terms))
	for term := range coefs.Terms {
		if IsIgnoredTerm(term) {
			continue
		}
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var (
		effects []models.TermEffect
		skipped []models.SkippedTerm
	)
	for _, term := range terms {
		beta := coefs.Terms[term].Beta
		if math.IsNaN(beta) || math.IsInf(beta, 0) {
			skipped = append(skipped, models.SkippedTerm{Term: term, Reason: "coefficient is not finite"})
			continue
		}

		sv, err := TermValue(term, subject)
		if err != nil {
			skipped = append(skipped, models.SkippedTerm{Term: term, Reason: "subject " + skipReason(err)})
			continue
		}
		cv, err := TermValue(term, comp)
		if err != nil {
			skipped = append(skipped, models.SkippedTerm{Term: term, Reason: "comparable " + skipReason(err)})
			continue
		}

		effects = append(effects, models.TermEffect{
			Term:            term,
			Beta:            beta,
			SubjectValue:    sv,
			ComparableValue: cv,
			Effect:          beta * (sv - cv),
		})
	}
	return effects, skipped
}

func skipReason(err error) string {
	var dq *DataQualityError
	if errors.As(err, &dq) {
		return dq.Field + " " + dq.Reason
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

// Combine applies automatic effects and manual overrides (percent) to a raw
// price. Dollar amounts are attributed sequentially in term-name order,
// dollar_i = raw * exp(s_before_i) * (exp(e_i) - 1), so they telescope to
// exactly adjusted - raw.
func Combine(parcelNumber string, rawPrice float64, auto []models.TermEffect, manual map[string]float64) (AdjustedResult, error) {
	if math.IsNaN(rawPrice) || math.IsInf(rawPrice, 0) || rawPrice <= 0 {
		return AdjustedResult{}, &ComputationError{ParcelNumber: parcelNumber, Quantity: "raw sale price", Value: rawPrice}
	}

	type line struct {
		effect  float64
		source  string
		autoPct *float64
	}
	active := make(map[string]line, len(auto)+len(manual))

	for _, e := range auto {
		if e.Effect == 0 {
			continue
		}
		active[e.Term] = line{effect: e.Effect, source: models.AdjustmentSourceAuto}
	}
	for term, pct := range manual {
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			return AdjustedResult{}, &ComputationError{ParcelNumber: parcelNumber, Quantity: fmt.Sprintf("manual adjustment %s", term), Value: pct}
		}
		l := line{effect: pct / 100, source: models.AdjustmentSourceManual}
		for _, e := range auto {
			if e.Term == term {
				autoPct := e.Effect * 100
				l.autoPct = &autoPct
				break
			}
		}
		active[term] = l
	}

	terms := make([]string, 0, len(active))
	for term := range active {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	result := AdjustedResult{
		RawPrice:    rawPrice,
		AutoEffects: auto,
		Items:       make([]models.ItemizedAdjustment, 0, len(terms)),
	}

	var sum, gross float64
	for _, term := range terms {
		l := active[term]
		dollars := rawPrice * math.Exp(sum) * math.Expm1(l.effect)
		sum += l.effect
		gross += math.Abs(l.effect)
		result.Items = append(result.Items, models.ItemizedAdjustment{
			Term:    term,
			Source:  l.source,
			AutoPct: l.autoPct,
			Pct:     l.effect * 100,
			Dollars: dollars,
		})
	}

	adjusted := rawPrice * math.Exp(sum)
	if math.IsNaN(adjusted) || math.IsInf(adjusted, 0) || adjusted <= 0 {
		return AdjustedResult{}, &ComputationError{ParcelNumber: parcelNumber, Quantity: "adjusted sale price", Value: adjusted}
	}

	result.AdjustedPrice = adjusted
	result.LogAdjustment = sum
	result.GrossPct = gross * 100
	result.NetPct = sum * 100
	return result, nil
}

// AutoPercentages returns term → automatic effect in percent.
func AutoPercentages(effects []models.TermEffect) map[string]float64 {
	out := make(map[string]float64, len(effects))
	for _, e := range effects {
		out[e.Term] = e.Effect * 100
	}
	return out
}
