package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/appraisal/internal/analytics"
)

// ModelNotConfigured returns a 422 response naming the model that could not
// be resolved.
func ModelNotConfigured(c *gin.Context, ce *analytics.ConfigurationError) {
	details := map[string]interface{}{"reason": ce.Reason}
	if ce.MarketGroup != "" {
		details["market_group"] = ce.MarketGroup
	}
	if ce.ValueTier != "" {
		details["value_tier"] = ce.ValueTier
	}
	if ce.RunID != "" {
		details["run_id"] = ce.RunID
	}
	write(c, http.StatusUnprocessableEntity, ErrModelNotConfigured, "No adjustment model is configured for this request", details)
}

// InsufficientData returns a 422 response with the exclusion counters.
func InsufficientData(c *gin.Context, ide *analytics.InsufficientDataError) {
	write(c, http.StatusUnprocessableEntity, ErrInsufficientData, "Not enough usable sales for "+ide.Scope, map[string]interface{}{
		"dropped":  ide.Dropped,
		"trimmed":  ide.Trimmed,
		"required": ide.Required,
	})
}

// Domain responds for whole-operation domain failures and deadline expiry.
// It returns false, having written nothing, when err is none of those.
func Domain(c *gin.Context, err error) bool {
	var ce *analytics.ConfigurationError
	var ide *analytics.InsufficientDataError
	switch {
	case errors.As(err, &ce):
		ModelNotConfigured(c, ce)
	case errors.As(err, &ide):
		InsufficientData(c, ide)
	case errors.Is(err, context.DeadlineExceeded):
		Timeout(c, "The request did not complete in time")
	default:
		return false
	}
	return true
}
