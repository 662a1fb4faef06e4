package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/appraisal/internal/errors"
	"github.com/stwalsh4118/appraisal/internal/services"
)

// AnalysisHandler manages saved appeal analyses.
type AnalysisHandler struct {
	analyses services.AnalysisService
}

// NewAnalysisHandler creates a new AnalysisHandler instance.
func NewAnalysisHandler(analyses services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

// CreateAnalysisRequest is the body of POST /api/v1/analyses.
type CreateAnalysisRequest struct {
	ParcelNumber string  `json:"parcelNumber" binding:"required,max=64"`
	Year         int     `json:"year" binding:"omitempty,gte=1900,lte=2200"`
	Radius       float64 `json:"radius" binding:"omitempty,gt=0,lte=10000"`
	Limit        int     `json:"limit" binding:"omitempty,min=1"`
	NoExpand     bool    `json:"noExpand"`
	MarketGroup  string  `json:"marketGroup" binding:"omitempty,max=64"`
	RunID        string  `json:"runId" binding:"omitempty,max=32"`
}

// ManualAdjustmentRequest sets one term's adjustment in log-space percent.
type ManualAdjustmentRequest struct {
	Pct *float64 `json:"pct" binding:"required"`
}

// InclusionRequest includes or excludes a selection from scoring.
type InclusionRequest struct {
	Included *bool `json:"included" binding:"required"`
}

// Create handles POST /api/v1/analyses.
func (h *AnalysisHandler) Create(c *gin.Context) {
	var req CreateAnalysisRequest
	if !bindJSON(c, &req) {
		return
	}

	analysis, err := h.analyses.Create(c.Request.Context(), services.CreateAnalysisRequest{
		ParcelNumber: req.ParcelNumber,
		RollYear:     req.Year,
		RadiusMeters: req.Radius,
		Limit:        req.Limit,
		NoExpand:     req.NoExpand,
		MarketGroup:  req.MarketGroup,
		RunID:        req.RunID,
	})
	if err != nil {
		respondError(c, err, "Failed to create analysis")
		return
	}

	c.JSON(http.StatusCreated, analysis)
}

// Get handles GET /api/v1/analyses/:id.
func (h *AnalysisHandler) Get(c *gin.Context) {
	analysis, err := h.analyses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load analysis")
		return
	}

	c.JSON(http.StatusOK, analysis)
}

// Delete handles DELETE /api/v1/analyses/:id.
func (h *AnalysisHandler) Delete(c *gin.Context) {
	if err := h.analyses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete analysis")
		return
	}

	c.Status(http.StatusNoContent)
}

// Score handles GET /api/v1/analyses/:id/score.
func (h *AnalysisHandler) Score(c *gin.Context) {
	score, err := h.analyses.Score(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to score analysis")
		return
	}

	c.JSON(http.StatusOK, score)
}

// SetAdjustment handles PUT /api/v1/analyses/:id/selections/:selection/adjustments/:term.
func (h *AnalysisHandler) SetAdjustment(c *gin.Context) {
	selectionID, ok := selectionParam(c)
	if !ok {
		return
	}
	var req ManualAdjustmentRequest
	if !bindJSON(c, &req) {
		return
	}

	h.updateAdjustment(c, selectionID, req.Pct)
}

// ClearAdjustment handles DELETE /api/v1/analyses/:id/selections/:selection/adjustments/:term.
func (h *AnalysisHandler) ClearAdjustment(c *gin.Context) {
	selectionID, ok := selectionParam(c)
	if !ok {
		return
	}

	h.updateAdjustment(c, selectionID, nil)
}

func (h *AnalysisHandler) updateAdjustment(c *gin.Context, selectionID uint, pct *float64) {
	sel, err := h.analyses.SetManualAdjustment(c.Request.Context(), c.Param("id"), selectionID, c.Param("term"), pct)
	if err != nil {
		respondError(c, err, "Failed to update adjustment")
		return
	}

	c.JSON(http.StatusOK, sel)
}

// SetIncluded handles PATCH /api/v1/analyses/:id/selections/:selection.
func (h *AnalysisHandler) SetIncluded(c *gin.Context) {
	selectionID, ok := selectionParam(c)
	if !ok {
		return
	}
	var req InclusionRequest
	if !bindJSON(c, &req) {
		return
	}

	sel, err := h.analyses.SetIncluded(c.Request.Context(), c.Param("id"), selectionID, *req.Included)
	if err != nil {
		respondError(c, err, "Failed to update selection")
		return
	}

	c.JSON(http.StatusOK, sel)
}

func selectionParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("selection"), 10, 32)
	if err != nil || id == 0 {
		apierrors.BadRequest(c, "Selection ID must be a positive integer", nil)
		return 0, false
	}
	return uint(id), true
}
