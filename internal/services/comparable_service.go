package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stwalsh4118/appraisal/internal/cache"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/reference"
	"github.com/stwalsh4118/appraisal/internal/repository"
)

// Radius validation constants
const (
	MinRadiusMeters = 1
	MaxRadiusMeters = 10000
)

// Service-level errors
var (
	ErrParcelNotFound      = errors.New("parcel not found")
	ErrInvalidRadius       = errors.New("radius must be between 1 and 10000 meters")
	ErrInvalidLimit        = errors.New("invalid comparable limit")
	ErrSubjectUnlocated    = errors.New("subject parcel has no usable location")
	ErrSearchTimeout       = errors.New("comparable search timed out")
	ErrInvalidParcelID     = errors.New("parcel number is required")
	ErrInvalidNeighborhood = errors.New("neighborhood code is required")
	ErrAnalysisNotFound    = errors.New("analysis not found")
	ErrSelectionNotFound   = errors.New("comparable selection not found")
	ErrInvalidAdjustment   = errors.New("invalid manual adjustment")
	ErrInvalidFilter       = errors.New("invalid comparable filter")
)

// ComparableQuery is one comparable search request. Zero RadiusMeters and
// Limit use the configured defaults; zero RollYear means the latest roll.
// Filters.PropertyType names a land-use category and replaces the subject's.
type ComparableQuery struct {
	ParcelNumber string
	RollYear     int
	RadiusMeters float64
	Limit        int
	NoExpand     bool
	Refresh      bool
	Filters      models.ComparableFilters
}

// ComparableResult is an ordered comparable search with the radius that
// produced it.
type ComparableResult struct {
	Subject               *models.Parcel         `json:"subject"`
	Comparables           []models.SaleCandidate `json:"comparables"`
	RequestedRadiusMeters float64                `json:"requestedRadiusMeters"`
	RadiusMeters          float64                `json:"radiusMeters"`
	MaxRadiusMeters       float64                `json:"maxRadiusMeters"`
	Queries               int                    `json:"queries"`
	CurrentLimit          int                    `json:"currentLimit"`
	MaxLimit              int                    `json:"maxLimit"`
	UnlocatedExcluded     int                    `json:"unlocatedExcluded"`
	Partial               bool                   `json:"partial"`
	Cached                bool                   `json:"cached"`
	LastRefreshed         time.Time              `json:"lastRefreshed"`
}

// ComparableService finds recently sold parcels similar to a subject.
type ComparableService interface {
	// FindComparables returns valid sales of the subject's land-use category
	// ordered by distance, then most recent sale. When fewer than the minimum
	// useful count are found the radius doubles up to a ceiling.
	// Returns ErrParcelNotFound, ErrSubjectUnlocated, ErrInvalidRadius or
	// ErrInvalidLimit for bad requests, ErrInvalidFilter for inconsistent
	// filters. An empty result is not an error.
	FindComparables(ctx context.Context, q ComparableQuery) (*ComparableResult, error)
}

type comparableService struct {
	repo      repository.ParcelRepository
	cache     cache.Store
	tables    *reference.Tables
	cfg       config.ComparableConfig
	freshness time.Duration
	group     singleflight.Group
	log       *logger.Logger
	now       func() time.Time
}

// NewComparableService creates a ComparableService. A nil store disables caching.
func NewComparableService(repo repository.ParcelRepository, store cache.Store, tables *reference.Tables, cfg config.ComparableConfig, freshness time.Duration, log *logger.Logger) ComparableService {
	if store == nil {
		store = cache.NopStore{}
	}
	return &comparableService{
		repo:      repo,
		cache:     store,
		tables:    tables,
		cfg:       cfg,
		freshness: freshness,
		log:       log.WithComponent("comparables"),
		now:       time.Now,
	}
}

func (s *comparableService) FindComparables(ctx context.Context, q ComparableQuery) (*ComparableResult, error) {
	if q.ParcelNumber == "" {
		return nil, ErrInvalidParcelID
	}
	if q.RadiusMeters == 0 {
		q.RadiusMeters = s.cfg.DefaultRadiusMeters
	}
	if math.IsNaN(q.RadiusMeters) || q.RadiusMeters < MinRadiusMeters || q.RadiusMeters > MaxRadiusMeters {
		s.log.Warn("Invalid radius provided", map[string]interface{}{
			"parcel": q.ParcelNumber,
			"radius": q.RadiusMeters,
		})
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRadius, q.RadiusMeters)
	}
	if q.Limit == 0 {
		q.Limit = s.cfg.DefaultLimit
	}
	if q.Limit < 1 || q.Limit > s.cfg.MaxLimit {
		return nil, fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidLimit, s.cfg.MaxLimit, q.Limit)
	}
	if err := s.validateFilters(q.Filters); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := models.CacheKey{
		ParcelNumber: q.ParcelNumber,
		RollYear:     q.RollYear,
		RadiusMeters: q.RadiusMeters,
		Limit:        q.Limit,
		Filters:      q.Filters.Fingerprint(),
	}
	useCache := !q.NoExpand
	if useCache && !q.Refresh {
		if hit := s.cached(ctx, key); hit != nil {
			return hit, nil
		}
	}

	// The shared search outlives any one caller; each caller waits on its
	// own context.
	flightKey := cache.Key(key) + ":" + strconv.FormatBool(q.NoExpand)
	ch := s.group.DoChan(flightKey, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.searchBudget())
		defer cancel()

		result, err := s.search(sctx, q)
		if err != nil {
			return nil, err
		}
		if useCache && !result.Partial {
			s.store(sctx, key, result)
		}
		return result, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		s.log.Debug("Caller left a comparable search in flight", map[string]interface{}{
			"parcel": q.ParcelNumber,
		})
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	result := res.Val.(*ComparableResult)
	if res.Shared {
		s.log.Debug("Comparable search shared with a concurrent request", map[string]interface{}{
			"parcel": q.ParcelNumber,
		})
		copied := *result
		copied.Comparables = append([]models.SaleCandidate(nil), result.Comparables...)
		return &copied, nil
	}
	return result, nil
}

// searchBudget bounds one shared search: every expansion query plus the
// unlocated-sales count.
func (s *comparableService) searchBudget() time.Duration {
	return s.cfg.QueryTimeout * time.Duration(s.cfg.MaxExpansionSteps+2)
}

func (s *comparableService) validateFilters(f models.ComparableFilters) error {
	switch {
	case f.SaleDateMin != nil && f.SaleDateMax != nil && f.SaleDateMin.After(*f.SaleDateMax):
		return fmt.Errorf("%w: sale_date_min is after sale_date_max", ErrInvalidFilter)
	case f.MinPrice != nil && (*f.MinPrice < 0 || math.IsNaN(*f.MinPrice)):
		return fmt.Errorf("%w: min_price must be non-negative", ErrInvalidFilter)
	case f.MaxPrice != nil && (*f.MaxPrice < 0 || math.IsNaN(*f.MaxPrice)):
		return fmt.Errorf("%w: max_price must be non-negative", ErrInvalidFilter)
	case f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice:
		return fmt.Errorf("%w: min_price exceeds max_price", ErrInvalidFilter)
	case f.MinBedrooms != nil && *f.MinBedrooms < 0:
		return fmt.Errorf("%w: min_bedrooms must be non-negative", ErrInvalidFilter)
	case f.MinBathrooms != nil && (*f.MinBathrooms < 0 || math.IsNaN(*f.MinBathrooms)):
		return fmt.Errorf("%w: min_bathrooms must be non-negative", ErrInvalidFilter)
	}
	if strings.TrimSpace(f.PropertyType) != "" {
		if _, ok := s.tables.PropertyTypePrefixes(f.PropertyType); !ok {
			return fmt.Errorf("%w: unknown property_type %q (one of %s)", ErrInvalidFilter,
				f.PropertyType, strings.Join(s.tables.LandUse.Names(), ", "))
		}
	}
	return nil
}

// cached returns a fresh cache entry, or nil on a miss, a stale entry or a
// cache failure.
func (s *comparableService) cached(ctx context.Context, key models.CacheKey) *ComparableResult {
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Comparable cache read failed", map[string]interface{}{
			"key":   cache.Key(key),
			"error": err.Error(),
		})
		return nil
	}
	if entry == nil {
		return nil
	}
	if s.now().Sub(entry.LastRefreshed) >= s.freshness {
		s.log.Debug("Comparable cache entry is stale", map[string]interface{}{
			"key":            cache.Key(key),
			"last_refreshed": entry.LastRefreshed,
		})
		return nil
	}

	var result ComparableResult
	if err := json.Unmarshal(entry.Payload, &result); err != nil {
		s.log.Warn("Discarding unreadable comparable cache entry", map[string]interface{}{
			"key":   cache.Key(key),
			"error": err.Error(),
		})
		return nil
	}
	result.Cached = true
	result.LastRefreshed = entry.LastRefreshed

	s.log.Info("Comparable cache hit", map[string]interface{}{
		"parcel": key.ParcelNumber,
		"count":  len(result.Comparables),
	})
	return &result
}

func (s *comparableService) store(ctx context.Context, key models.CacheKey, result *ComparableResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.log.Warn("Failed to encode comparable result for cache", map[string]interface{}{"error": err.Error()})
		return
	}
	entry := models.CacheEntry{Key: key, Payload: payload, LastRefreshed: result.LastRefreshed}
	if err := s.cache.Put(ctx, entry); err != nil {
		s.log.Warn("Comparable cache write failed", map[string]interface{}{
			"key":   cache.Key(key),
			"error": err.Error(),
		})
	}
}

func (s *comparableService) search(ctx context.Context, q ComparableQuery) (*ComparableResult, error) {
	subject, err := s.repo.FindByParcelNumber(ctx, q.ParcelNumber, q.RollYear)
	if err != nil {
		s.log.Error("Failed to load subject parcel", err, map[string]interface{}{
			"parcel": q.ParcelNumber,
		})
		return nil, fmt.Errorf("failed to load subject parcel: %w", err)
	}
	if subject == nil {
		return nil, ErrParcelNotFound
	}
	if !subject.HasLocation() {
		s.log.Warn("Subject parcel has no usable location", map[string]interface{}{
			"parcel": q.ParcelNumber,
		})
		return nil, ErrSubjectUnlocated
	}

	search := models.SaleSearch{
		SubjectParcel:   subject.ParcelNumber,
		Center:          *subject.Location,
		RadiusMeters:    q.RadiusMeters,
		LandUseCodes:    s.tables.LandUsePrefixes(subject.LandUseCode),
		SaleWindowStart: s.cfg.SaleWindowStart,
		MinSalePrice:    s.cfg.MinSalePrice,
		Filters:         q.Filters,
		Limit:           q.Limit,
	}
	if prefixes, ok := s.tables.PropertyTypePrefixes(q.Filters.PropertyType); ok {
		search.LandUseCodes = prefixes
	}
	// A search asking for fewer than MinUseful stops once it has them.
	enough := min(s.cfg.MinUseful, q.Limit)
	ceiling := q.RadiusMeters * s.cfg.MaxExpansionFactor

	s.log.Info("Searching comparables", map[string]interface{}{
		"parcel":    subject.ParcelNumber,
		"radius":    q.RadiusMeters,
		"ceiling":   ceiling,
		"limit":     q.Limit,
		"land_use":  search.LandUseCodes,
		"no_expand": q.NoExpand,
		"filters":   q.Filters.Fingerprint(),
	})

	result := &ComparableResult{
		Subject:               subject,
		RequestedRadiusMeters: q.RadiusMeters,
		MaxRadiusMeters:       ceiling,
		CurrentLimit:          q.Limit,
		MaxLimit:              s.cfg.MaxLimit,
	}

	// The loop issues at most MaxExpansionSteps+1 queries regardless of data.
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := s.query(ctx, search)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				if step == 0 {
					return nil, fmt.Errorf("%w at radius %.0fm", ErrSearchTimeout, search.RadiusMeters)
				}
				s.log.Warn("Comparable expansion query timed out, returning previous radius", map[string]interface{}{
					"parcel": subject.ParcelNumber,
					"radius": search.RadiusMeters,
				})
				result.Partial = true
				break
			}
			s.log.Error("Comparable query failed", err, map[string]interface{}{
				"parcel": subject.ParcelNumber,
				"radius": search.RadiusMeters,
			})
			return nil, fmt.Errorf("failed to query comparables: %w", err)
		}

		result.Comparables = found
		result.RadiusMeters = search.RadiusMeters
		result.Queries = step + 1

		if len(found) >= enough || q.NoExpand || step >= s.cfg.MaxExpansionSteps || search.RadiusMeters >= ceiling {
			break
		}
		search.RadiusMeters = math.Min(search.RadiusMeters*2, ceiling)
		s.log.Debug("Expanding comparable search radius", map[string]interface{}{
			"parcel": subject.ParcelNumber,
			"found":  len(found),
			"radius": search.RadiusMeters,
		})
	}

	search.RadiusMeters = result.RadiusMeters
	unlocated, err := s.repo.CountUnlocatedSales(ctx, search)
	if err != nil {
		s.log.Warn("Failed to count sales without coordinates", map[string]interface{}{
			"parcel": subject.ParcelNumber,
			"error":  err.Error(),
		})
	} else if unlocated > 0 {
		result.UnlocatedExcluded = unlocated
		s.log.Warn("Sales without coordinates excluded from comparable search", map[string]interface{}{
			"parcel": subject.ParcelNumber,
			"count":  unlocated,
		})
	}

	if result.Comparables == nil {
		result.Comparables = []models.SaleCandidate{}
	}
	result.LastRefreshed = s.now().UTC()

	s.log.Info("Comparables found", map[string]interface{}{
		"parcel":  subject.ParcelNumber,
		"count":   len(result.Comparables),
		"radius":  result.RadiusMeters,
		"queries": result.Queries,
		"partial": result.Partial,
	})
	return result, nil
}

// query runs one radius search under the per-query timeout and drops rows
// that cannot be comparables.
func (s *comparableService) query(ctx context.Context, search models.SaleSearch) ([]models.SaleCandidate, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.repo.FindSaleCandidates(qctx, search)
	if err != nil {
		return nil, err
	}

	kept := rows[:0:0]
	for _, c := range rows {
		switch {
		case !c.Parcel.HasLocation():
			s.log.Warn("Excluding comparable without coordinates", map[string]interface{}{"parcel": c.Parcel.ParcelNumber})
		case !c.Sale.IsValid():
			s.log.Warn("Excluding non-market sale", map[string]interface{}{"parcel": c.Parcel.ParcelNumber, "sale_type": c.Sale.SaleType})
		case c.DistanceMeters > search.RadiusMeters:
			s.log.Warn("Excluding comparable outside search radius", map[string]interface{}{"parcel": c.Parcel.ParcelNumber, "distance": c.DistanceMeters})
		default:
			kept = append(kept, c)
		}
	}
	return kept, nil
}
