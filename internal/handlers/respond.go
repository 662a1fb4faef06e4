package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/appraisal/internal/errors"
	"github.com/stwalsh4118/appraisal/internal/services"
)

// bindQuery binds query parameters into req and writes the error response
// when binding fails.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		bindingFailed(c, err, "Invalid query parameters")
		return false
	}
	return true
}

// bindJSON is bindQuery for request bodies.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		bindingFailed(c, err, "Invalid request body")
		return false
	}
	return true
}

func bindingFailed(c *gin.Context, err error, message string) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apierrors.ValidationError(c, validationErrors)
		return
	}
	apierrors.BadRequest(c, message, map[string]interface{}{"reason": err.Error()})
}

// respondError maps a service error to its HTTP response. message is used
// for unexpected failures only.
func respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, services.ErrParcelNotFound),
		errors.Is(err, services.ErrAnalysisNotFound),
		errors.Is(err, services.ErrSelectionNotFound):
		apierrors.NotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidRadius),
		errors.Is(err, services.ErrInvalidLimit),
		errors.Is(err, services.ErrInvalidParcelID),
		errors.Is(err, services.ErrInvalidNeighborhood),
		errors.Is(err, services.ErrInvalidAdjustment),
		errors.Is(err, services.ErrInvalidFilter),
		errors.Is(err, services.ErrSubjectUnlocated):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrSearchTimeout):
		apierrors.Timeout(c, err.Error())
	case apierrors.Domain(c, err):
	default:
		apierrors.InternalServerError(c, message, err)
	}
}
