package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/services"
)

// ParcelHandler serves subject summaries, comparable searches and appeal
// scores for one parcel.
type ParcelHandler struct {
	parcels     services.ParcelService
	comparables services.ComparableService
}

// NewParcelHandler creates a new ParcelHandler instance.
func NewParcelHandler(parcels services.ParcelService, comparables services.ComparableService) *ParcelHandler {
	return &ParcelHandler{
		parcels:     parcels,
		comparables: comparables,
	}
}

// YearRequest selects a roll year; zero means the latest roll.
type YearRequest struct {
	Year int `form:"year" binding:"omitempty,gte=1900,lte=2200"`
}

// ComparablesRequest represents the query parameters for the comparables endpoint.
type ComparablesRequest struct {
	Year     int     `form:"year" binding:"omitempty,gte=1900,lte=2200"`
	Radius   float64 `form:"radius" binding:"omitempty,gt=0,lte=10000"`
	Limit    int     `form:"limit" binding:"omitempty,min=1"`
	NoExpand bool    `form:"no_expand"`
	Refresh  bool    `form:"refresh"`

	SaleDateMin  *time.Time `form:"sale_date_min" time_format:"2006-01-02" time_utc:"1"`
	SaleDateMax  *time.Time `form:"sale_date_max" time_format:"2006-01-02" time_utc:"1"`
	PropertyType string     `form:"property_type" binding:"omitempty,max=64"`
	MinPrice     *float64   `form:"min_price" binding:"omitempty,gte=0"`
	MaxPrice     *float64   `form:"max_price" binding:"omitempty,gte=0"`
	MinBedrooms  *int       `form:"min_bedrooms" binding:"omitempty,gte=0"`
	MinBathrooms *float64   `form:"min_bathrooms" binding:"omitempty,gte=0"`
	// Exclude accepts repeated and comma-separated parcel numbers.
	Exclude []string `form:"exclude" binding:"omitempty,max=200"`
}

func (r ComparablesRequest) filters() models.ComparableFilters {
	var exclude []string
	for _, v := range r.Exclude {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				exclude = append(exclude, p)
			}
		}
	}
	return models.ComparableFilters{
		SaleDateMin:  r.SaleDateMin,
		SaleDateMax:  r.SaleDateMax,
		PropertyType: strings.TrimSpace(r.PropertyType),
		MinPrice:     r.MinPrice,
		MaxPrice:     r.MaxPrice,
		MinBedrooms:  r.MinBedrooms,
		MinBathrooms: r.MinBathrooms,
		Exclude:      exclude,
	}
}

// AppealScoreRequest scores an appeal from caller-supplied adjusted prices.
type AppealScoreRequest struct {
	Year           int       `json:"year" binding:"omitempty,gte=1900,lte=2200"`
	AdjustedPrices []float64 `json:"adjustedPrices" binding:"required,max=100,dive,gt=0"`
}

func parcelParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("parcel"))
}

// Summary handles GET /api/v1/parcels/:parcel/summary.
func (h *ParcelHandler) Summary(c *gin.Context) {
	var req YearRequest
	if !bindQuery(c, &req) {
		return
	}

	summary, err := h.parcels.GetSubjectSummary(c.Request.Context(), parcelParam(c), req.Year)
	if err != nil {
		respondError(c, err, "Failed to load subject summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Comparables handles GET /api/v1/parcels/:parcel/comparables.
func (h *ParcelHandler) Comparables(c *gin.Context) {
	var req ComparablesRequest
	if !bindQuery(c, &req) {
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Processing comparables request", map[string]interface{}{
			"parcel":    parcelParam(c),
			"radius":    req.Radius,
			"limit":     req.Limit,
			"no_expand": req.NoExpand,
		})
	}

	result, err := h.comparables.FindComparables(c.Request.Context(), services.ComparableQuery{
		ParcelNumber: parcelParam(c),
		RollYear:     req.Year,
		RadiusMeters: req.Radius,
		Limit:        req.Limit,
		NoExpand:     req.NoExpand,
		Refresh:      req.Refresh,
		Filters:      req.filters(),
	})
	if err != nil {
		respondError(c, err, "Failed to search comparables")
		return
	}

	c.JSON(http.StatusOK, result)
}

// AppealScore handles POST /api/v1/parcels/:parcel/appeal-score.
func (h *ParcelHandler) AppealScore(c *gin.Context) {
	var req AppealScoreRequest
	if !bindJSON(c, &req) {
		return
	}

	score, err := h.parcels.ScoreAppeal(c.Request.Context(), parcelParam(c), req.Year, req.AdjustedPrices)
	if err != nil {
		respondError(c, err, "Failed to score appeal")
		return
	}

	c.JSON(http.StatusOK, score)
}
