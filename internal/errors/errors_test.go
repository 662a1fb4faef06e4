package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestContext creates a test Gin context with logger and request ID in context.
func setupTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

	c.Set(middleware.LoggerKey, logger.Nop())
	c.Set(middleware.RequestIDKey, "test-request-id")

	return c, w
}

func parseErrorResponse(t *testing.T, body *bytes.Buffer) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &response), "Failed to parse error response JSON")
	return response
}

func TestNotFound(t *testing.T) {
	c, w := setupTestContext()

	NotFound(c, "Parcel not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrNotFound, response.Error.Code)
	assert.Equal(t, "Parcel not found", response.Error.Message)
	assert.Equal(t, "test-request-id", response.Error.RequestID)
	assert.Nil(t, response.Error.Details)
}

func TestBadRequest(t *testing.T) {
	t.Run("without details", func(t *testing.T) {
		c, w := setupTestContext()

		BadRequest(c, "Invalid input", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := parseErrorResponse(t, w.Body)
		assert.Equal(t, ErrBadRequest, response.Error.Code)
		assert.Nil(t, response.Error.Details)
	})

	t.Run("with details", func(t *testing.T) {
		c, w := setupTestContext()

		BadRequest(c, "Invalid input", map[string]interface{}{"radius": "must be positive"})

		response := parseErrorResponse(t, w.Body)
		assert.Equal(t, "must be positive", response.Error.Details["radius"])
	})
}

func TestInternalServerError_HidesCause(t *testing.T) {
	c, w := setupTestContext()

	InternalServerError(c, "Failed to load parcel", errors.New("password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrInternalServer, response.Error.Code)
	assert.Equal(t, "Failed to load parcel", response.Error.Message)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestValidationError(t *testing.T) {
	c, w := setupTestContext()

	type query struct {
		Radius float64 `validate:"required,gt=0"`
		Limit  int     `validate:"lte=24"`
	}
	err := validator.New().Struct(query{Limit: 40})
	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)

	ValidationError(c, validationErrors)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrValidation, response.Error.Code)
	assert.Equal(t, "This field is required", response.Error.Details["Radius"])
	assert.Equal(t, "Must be less than or equal to 24", response.Error.Details["Limit"])
}

func TestFormatValidationError(t *testing.T) {
	tests := []struct {
		tag      string
		param    string
		expected string
	}{
		{"required", "", "This field is required"},
		{"min", "1", "Value is too short or small (minimum: 1)"},
		{"max", "10000", "Value is too long or large (maximum: 10000)"},
		{"gt", "0", "Must be greater than 0"},
		{"gte", "2000", "Must be greater than or equal to 2000"},
		{"lt", "100", "Must be less than 100"},
		{"lte", "24", "Must be less than or equal to 24"},
		{"oneof", "true false", "Must be one of: true false"},
		{"alphanum", "", "Must contain only letters and digits"},
		{"unknown_tag", "", "Validation failed for tag: unknown_tag"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValidationError(&mockFieldError{tag: tt.tag, param: tt.param}))
		})
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "configuration error",
			err:    fmt.Errorf("resolve: %w", &analytics.ConfigurationError{MarketGroup: "CONCRETE", RunID: "r1", Reason: "no coefficients"}),
			status: http.StatusUnprocessableEntity,
			code:   ErrModelNotConfigured,
		},
		{
			name:   "insufficient data",
			err:    &analytics.InsufficientDataError{Scope: "ratio study 20B01/2025", Dropped: 2, Required: 1},
			status: http.StatusUnprocessableEntity,
			code:   ErrInsufficientData,
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("query: %w", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			code:   ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := setupTestContext()

			require.True(t, Domain(c, tt.err))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, parseErrorResponse(t, w.Body).Error.Code)
		})
	}
}

func TestDomain_ModelDetails(t *testing.T) {
	c, w := setupTestContext()

	Domain(c, &analytics.ConfigurationError{MarketGroup: "CONCRETE", ValueTier: "HIGH", RunID: "r1", Reason: "no coefficients"})

	details := parseErrorResponse(t, w.Body).Error.Details
	assert.Equal(t, "CONCRETE", details["market_group"])
	assert.Equal(t, "HIGH", details["value_tier"])
	assert.Equal(t, "r1", details["run_id"])
	assert.Equal(t, "no coefficients", details["reason"])
}

func TestDomain_OtherErrorsUntouched(t *testing.T) {
	c, w := setupTestContext()

	assert.False(t, Domain(c, errors.New("connection reset")))
	assert.False(t, c.Writer.Written())
	assert.Zero(t, w.Body.Len())
}

func TestErrorResponseWithoutContext(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

	NotFound(c, "Parcel not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, parseErrorResponse(t, w.Body).Error.RequestID)
}

// mockFieldError is a mock implementation of validator.FieldError for testing.
type mockFieldError struct {
	tag   string
	param string
}

func (m *mockFieldError) Tag() string                    { return m.tag }
func (m *mockFieldError) ActualTag() string              { return m.tag }
func (m *mockFieldError) Namespace() string              { return "" }
func (m *mockFieldError) StructNamespace() string        { return "" }
func (m *mockFieldError) Field() string                  { return "TestField" }
func (m *mockFieldError) StructField() string            { return "TestField" }
func (m *mockFieldError) Value() interface{}             { return nil }
func (m *mockFieldError) Param() string                  { return m.param }
func (m *mockFieldError) Kind() reflect.Kind             { return reflect.String }
func (m *mockFieldError) Type() reflect.Type             { return nil }
func (m *mockFieldError) Translate(ut.Translator) string { return "" }
func (m *mockFieldError) Error() string                  { return "" }
