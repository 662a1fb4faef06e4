package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/appraisal/internal/analytics"
	apierrors "github.com/stwalsh4118/appraisal/internal/errors"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/services"
)

// RatioHandler serves neighborhood ratio studies and fitted model runs.
type RatioHandler struct {
	ratios       services.RatioStudyService
	coefficients services.CoefficientService
	now          func() time.Time
}

// NewRatioHandler creates a new RatioHandler instance.
func NewRatioHandler(ratios services.RatioStudyService, coefficients services.CoefficientService) *RatioHandler {
	return &RatioHandler{
		ratios:       ratios,
		coefficients: coefficients,
		now:          time.Now,
	}
}

// RunsRequest represents the query parameters for the runs listing.
type RunsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// RunsResponse lists stored model runs, newest first.
type RunsResponse struct {
	Runs  []models.RunInfo `json:"runs"`
	Count int              `json:"count"`
}

func (h *RatioHandler) year(req YearRequest) int {
	if req.Year != 0 {
		return req.Year
	}
	return h.now().Year()
}

// RatioStudy handles GET /api/v1/neighborhoods/:code/ratio-study.
// The year defaults to the current calendar year.
func (h *RatioHandler) RatioStudy(c *gin.Context) {
	var req YearRequest
	if !bindQuery(c, &req) {
		return
	}

	metrics, err := h.ratios.GetRatioStudy(c.Request.Context(), c.Param("code"), h.year(req))
	if err != nil {
		respondError(c, err, "Failed to load ratio study")
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// RefreshRatioStudy handles POST /api/v1/neighborhoods/:code/ratio-study/refresh.
func (h *RatioHandler) RefreshRatioStudy(c *gin.Context) {
	var req YearRequest
	if !bindQuery(c, &req) {
		return
	}

	metrics, err := h.ratios.RefreshRatioStudy(c.Request.Context(), c.Param("code"), h.year(req))
	if err != nil {
		respondError(c, err, "Failed to refresh ratio study")
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// Runs handles GET /api/v1/runs.
func (h *RatioHandler) Runs(c *gin.Context) {
	var req RunsRequest
	if !bindQuery(c, &req) {
		return
	}

	runs, err := h.coefficients.ListRuns(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, err, "Failed to list runs")
		return
	}

	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// RunSummary handles GET /api/v1/runs/:run_id and returns the stored
// diagnostics document as written by the fit job.
func (h *RatioHandler) RunSummary(c *gin.Context) {
	runID := strings.TrimSpace(c.Param("run_id"))

	summary, err := h.coefficients.RunSummary(c.Request.Context(), runID)
	if err != nil {
		if analytics.IsConfigurationError(err) {
			apierrors.NotFound(c, "Run not found")
			return
		}
		respondError(c, err, "Failed to load run summary")
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", summary)
}
