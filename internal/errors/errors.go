package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/stwalsh4118/appraisal/internal/middleware"
)

// Error code constants for standardized error responses
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrModelNotConfigured = "MODEL_NOT_CONFIGURED"
	ErrInsufficientData   = "INSUFFICIENT_DATA"
	ErrTimeout            = "TIMEOUT"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// write logs a client-side failure at warn level and sends the envelope.
func write(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		fields := map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
		}
		if details != nil {
			fields["details"] = details
		}
		log.Warn("Request failed", fields)
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	write(c, http.StatusBadRequest, ErrBadRequest, message, details)
}

// Timeout returns a 504 Gateway Timeout error response.
func Timeout(c *gin.Context, message string) {
	write(c, http.StatusGatewayTimeout, ErrTimeout, message, nil)
}

// InternalServerError returns a 500 Internal Server Error response.
// The error is logged but never sent to the client.
func InternalServerError(c *gin.Context, message string, err error) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		log.Error("Internal server error", err, map[string]interface{}{
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      ErrInternalServer,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ValidationError returns a 400 Bad Request error response with field-specific validation errors.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{})
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}

	write(c, http.StatusBadRequest, ErrValidation, "Validation failed for one or more fields", details)
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "gt":
		return "Must be greater than " + err.Param()
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lt":
		return "Must be less than " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	case "alphanum":
		return "Must contain only letters and digits"
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
