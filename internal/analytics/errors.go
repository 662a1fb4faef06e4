package analytics

import (
	"errors"
	"fmt"
)

// DataQualityError reports a missing or invalid attribute on one record.
// Callers exclude the record and count it; it never fails a whole operation.
type DataQualityError struct {
	ParcelNumber string
	Field        string
	Reason       string
}

func (e *DataQualityError) Error() string {
	if e.ParcelNumber == "" {
		return fmt.Sprintf("data quality: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("data quality: parcel %s: %s %s", e.ParcelNumber, e.Field, e.Reason)
}

// ConfigurationError reports a missing or unknown model configuration, such
// as no coefficients for a (market group, value tier, run). It is surfaced to
// the caller; no other model is substituted.
type ConfigurationError struct {
	MarketGroup string
	ValueTier   string
	RunID       string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	msg := "configuration: " + e.Reason
	if e.MarketGroup != "" {
		msg += fmt.Sprintf(" (market_group=%s", e.MarketGroup)
		if e.ValueTier != "" {
			msg += " value_tier=" + e.ValueTier
		}
		if e.RunID != "" {
			msg += " run_id=" + e.RunID
		}
		msg += ")"
	}
	return msg
}

// InsufficientDataError reports that no eligible records remained for an
// operation.
type InsufficientDataError struct {
	Scope    string
	Dropped  int
	Trimmed  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least %d usable records (dropped=%d trimmed=%d)",
		e.Scope, e.Required, e.Dropped, e.Trimmed)
}

// ComputationError reports a non-finite intermediate value for one record.
type ComputationError struct {
	ParcelNumber string
	Quantity     string
	Value        float64
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation: %s is %v for parcel %s", e.Quantity, e.Value, e.ParcelNumber)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsInsufficientData reports whether err wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}
