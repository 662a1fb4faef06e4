package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/models"
)

// ParcelRepository defines the interface for parcel and sale data access.
// The assessor data is read through the parcel_features view (one row per
// parcel and roll year, with a centroid_geog geography column) and the sales
// table.
type ParcelRepository interface {
	// FindByParcelNumber returns the parcel for a roll year; rollYear 0 selects
	// the latest roll year on file. Returns nil, nil if no parcel is found.
	FindByParcelNumber(ctx context.Context, parcelNumber string, rollYear int) (*models.Parcel, error)

	// FindSaleCandidates returns valid sales within search.RadiusMeters of
	// search.Center, ordered by distance then most recent sale date.
	// Returns an empty slice if nothing matches.
	FindSaleCandidates(ctx context.Context, search models.SaleSearch) ([]models.SaleCandidate, error)

	// CountUnlocatedSales counts eligible sales excluded from radius searches
	// because their parcel has no centroid.
	CountUnlocatedSales(ctx context.Context, search models.SaleSearch) (int, error)

	// FindTrainingSales returns valid sales joined to their parcel attributes.
	FindTrainingSales(ctx context.Context, filter models.SaleFilter) ([]models.TrainingSale, error)

	// ListNeighborhoods returns the neighborhood codes with at least one valid
	// sale in the roll year.
	ListNeighborhoods(ctx context.Context, rollYear int) ([]string, error)

	// NeighborhoodAssessmentChange returns the median percent change in assessed
	// value from the prior roll year across the neighborhood's parcels.
	// Returns nil, nil when no parcel has both years assessed.
	NeighborhoodAssessmentChange(ctx context.Context, neighborhoodCode string, rollYear int) (*float64, error)
}

// parcelRepository is the concrete implementation of ParcelRepository.
type parcelRepository struct {
	db *database.Database
}

// NewParcelRepository creates a new instance of ParcelRepository.
func NewParcelRepository(db *database.Database) ParcelRepository {
	return &parcelRepository{
		db: db,
	}
}

// parcelColumns must stay in the order scanParcel expects.
const parcelColumns = `
			f.parcel_number,
			f.roll_year,
			ST_AsGeoJSON(f.centroid_geog) AS location,
			f.address,
			COALESCE(f.land_use_code, '') AS land_use_code,
			COALESCE(f.neighborhood_code, '') AS neighborhood_code,
			f.living_area::float8,
			f.lot_acres::float8,
			f.bedrooms::int,
			f.bathrooms::float8,
			f.year_built::int,
			f.effective_year_built::int,
			f.condition_code,
			f.condition_score::float8,
			f.quality_score::float8,
			f.has_garage,
			f.garage_type,
			f.has_basement,
			f.is_view,
			f.in_flood_zone,
			f.elevation::float8,
			f.slope::float8,
			f.assessed_value::float8`

// saleColumns must stay in the order scanSale expects.
const saleColumns = `
			s.sale_id,
			s.parcel_number,
			s.roll_year,
			s.sale_price::float8,
			s.sale_date,
			s.sale_type,
			s.deed_type`

// validSaleClause restricts s to arms-length sales.
const validSaleClause = `upper(trim(s.sale_type)) = 'VALID SALE'`

func scanParcel(p *models.Parcel, location *[]byte) []any {
	return []any{
		&p.ParcelNumber,
		&p.RollYear,
		location,
		&p.Address,
		&p.LandUseCode,
		&p.NeighborhoodCode,
		&p.LivingArea,
		&p.LotAcres,
		&p.Bedrooms,
		&p.Bathrooms,
		&p.YearBuilt,
		&p.EffectiveYearBuilt,
		&p.ConditionCode,
		&p.ConditionScore,
		&p.QualityScore,
		&p.HasGarage,
		&p.GarageType,
		&p.HasBasement,
		&p.IsView,
		&p.InFloodZone,
		&p.Elevation,
		&p.Slope,
		&p.AssessedValue,
	}
}

func scanSale(s *models.Sale) []any {
	return []any{
		&s.ID,
		&s.ParcelNumber,
		&s.RollYear,
		&s.SalePrice,
		&s.SaleDate,
		&s.SaleType,
		&s.DeedType,
	}
}

// attachLocation parses the GeoJSON centroid. A missing or unusable centroid
// leaves Location nil.
func attachLocation(p *models.Parcel, geoJSON []byte) error {
	if len(geoJSON) == 0 {
		return nil
	}
	var pt models.Point
	if err := pt.Scan(geoJSON); err != nil {
		return fmt.Errorf("failed to parse location for parcel %s: %w", p.ParcelNumber, err)
	}
	if pt.Valid() {
		p.Location = &pt
	}
	return nil
}

// FindByParcelNumber queries the parcel_features view for one parcel.
func (r *parcelRepository) FindByParcelNumber(ctx context.Context, parcelNumber string, rollYear int) (*models.Parcel, error) {
	query := `
		SELECT` + parcelColumns + `
		FROM parcel_features f
		WHERE f.parcel_number = $1
		  AND ($2 = 0 OR f.roll_year = $2)
		ORDER BY f.roll_year DESC
		LIMIT 1
	`

	var parcel models.Parcel
	var location []byte

	err := r.db.Pool.QueryRow(ctx, query, parcelNumber, rollYear).Scan(scanParcel(&parcel, &location)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel %s (roll_year=%d): %w", parcelNumber, rollYear, err)
	}

	if err := attachLocation(&parcel, location); err != nil {
		return nil, err
	}

	return &parcel, nil
}

// landUsePatterns turns code prefixes into LIKE patterns. An empty result
// means no land-use restriction.
func landUsePatterns(prefixes []string) []string {
	patterns := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		patterns = append(patterns, strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(p)+"%")
	}
	return patterns
}

// comparableFilterClause renders the optional comparable filters with
// placeholders $n..$n+6, bound by comparableFilterArgs. NULL disables a filter.
func comparableFilterClause(n int) string {
	return fmt.Sprintf(`
		  AND ($%[1]d::date IS NULL OR s.sale_date::date >= $%[1]d::date)
		  AND ($%[2]d::date IS NULL OR s.sale_date::date <= $%[2]d::date)
		  AND ($%[3]d::float8 IS NULL OR s.sale_price >= $%[3]d::float8)
		  AND ($%[4]d::float8 IS NULL OR s.sale_price <= $%[4]d::float8)
		  AND ($%[5]d::int IS NULL OR f.bedrooms >= $%[5]d::int)
		  AND ($%[6]d::float8 IS NULL OR f.bathrooms >= $%[6]d::float8)
		  AND NOT (upper(s.parcel_number) = ANY($%[7]d::text[]))`,
		n, n+1, n+2, n+3, n+4, n+5, n+6)
}

func comparableFilterArgs(f models.ComparableFilters) []any {
	return []any{
		f.SaleDateMin,
		f.SaleDateMax,
		f.MinPrice,
		f.MaxPrice,
		f.MinBedrooms,
		f.MinBathrooms,
		f.ExcludedParcels(),
	}
}

// FindSaleCandidates runs one radius query. Distances are great-circle
// (spherical) distances on the geography centroids.
//
// Note: PostGIS functions expect (longitude, latitude) order, not (lat, lng).
func (r *parcelRepository) FindSaleCandidates(ctx context.Context, search models.SaleSearch) ([]models.SaleCandidate, error) {
	query := `
		WITH subject AS (
			SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography AS geog
		)
		SELECT` + parcelColumns + `,` + saleColumns + `,
			ST_Distance(f.centroid_geog, subject.geog, false) AS distance_meters
		FROM sales s
		JOIN parcel_features f
		  ON f.parcel_number = s.parcel_number AND f.roll_year = s.roll_year
		CROSS JOIN subject
		WHERE ` + validSaleClause + `
		  AND f.centroid_geog IS NOT NULL
		  AND ST_DWithin(f.centroid_geog, subject.geog, $3, false)
		  AND s.parcel_number <> $4
		  AND s.sale_date >= $5
		  AND s.sale_price >= $6
		  AND (cardinality($7::text[]) = 0 OR upper(f.land_use_code) LIKE ANY($7::text[]))` +
		comparableFilterClause(9) + `
		ORDER BY distance_meters ASC, s.sale_date DESC, s.parcel_number ASC
		LIMIT $8
	`

	args := []any{
		search.Center.Lng, search.Center.Lat,
		search.RadiusMeters,
		search.SubjectParcel,
		search.SaleWindowStart,
		search.MinSalePrice,
		landUsePatterns(search.LandUseCodes),
		search.Limit,
	}
	rows, err := r.db.Pool.Query(ctx, query, append(args, comparableFilterArgs(search.Filters)...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale candidates (parcel=%s, radius=%.0f): %w",
			search.SubjectParcel, search.RadiusMeters, err)
	}
	defer rows.Close()

	results := []models.SaleCandidate{}

	for rows.Next() {
		var c models.SaleCandidate
		var location []byte

		dest := append(scanParcel(&c.Parcel, &location), scanSale(&c.Sale)...)
		dest = append(dest, &c.DistanceMeters)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan sale candidate row: %w", err)
		}
		if err := attachLocation(&c.Parcel, location); err != nil {
			return nil, err
		}

		results = append(results, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sale candidate rows: %w", err)
	}

	return results, nil
}

// CountUnlocatedSales counts eligible sales that a radius search can never
// return because the parcel has no centroid.
func (r *parcelRepository) CountUnlocatedSales(ctx context.Context, search models.SaleSearch) (int, error) {
	query := `
		SELECT count(*)
		FROM sales s
		JOIN parcel_features f
		  ON f.parcel_number = s.parcel_number AND f.roll_year = s.roll_year
		WHERE ` + validSaleClause + `
		  AND f.centroid_geog IS NULL
		  AND s.parcel_number <> $1
		  AND s.sale_date >= $2
		  AND s.sale_price >= $3
		  AND (cardinality($4::text[]) = 0 OR upper(f.land_use_code) LIKE ANY($4::text[]))` +
		comparableFilterClause(5)

	args := []any{
		search.SubjectParcel,
		search.SaleWindowStart,
		search.MinSalePrice,
		landUsePatterns(search.LandUseCodes),
	}
	var n int
	err := r.db.Pool.QueryRow(ctx, query, append(args, comparableFilterArgs(search.Filters)...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unlocated sales: %w", err)
	}
	return n, nil
}

// FindTrainingSales loads valid sales with their parcel attributes, ordered
// by sale id for reproducible fits.
func (r *parcelRepository) FindTrainingSales(ctx context.Context, filter models.SaleFilter) ([]models.TrainingSale, error) {
	query := `
		SELECT` + parcelColumns + `,` + saleColumns + `
		FROM sales s
		JOIN parcel_features f
		  ON f.parcel_number = s.parcel_number AND f.roll_year = s.roll_year
		WHERE ` + validSaleClause + `
		  AND s.sale_date >= $1
		  AND s.sale_price >= $2
		  AND ($3 = 0 OR s.roll_year = $3)
		  AND ($4 = '' OR upper(trim(f.neighborhood_code)) = upper(trim($4)))
		ORDER BY s.sale_id
	`

	rows, err := r.db.Pool.Query(ctx, query,
		filter.SaleWindowStart,
		filter.MinSalePrice,
		filter.RollYear,
		filter.NeighborhoodCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query training sales: %w", err)
	}
	defer rows.Close()

	results := []models.TrainingSale{}

	for rows.Next() {
		var ts models.TrainingSale
		var location []byte

		if err := rows.Scan(append(scanParcel(&ts.Parcel, &location), scanSale(&ts.Sale)...)...); err != nil {
			return nil, fmt.Errorf("failed to scan training sale row: %w", err)
		}
		if err := attachLocation(&ts.Parcel, location); err != nil {
			return nil, err
		}

		results = append(results, ts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating training sale rows: %w", err)
	}

	return results, nil
}

// ListNeighborhoods returns distinct neighborhood codes with valid sales.
func (r *parcelRepository) ListNeighborhoods(ctx context.Context, rollYear int) ([]string, error) {
	query := `
		SELECT DISTINCT f.neighborhood_code
		FROM sales s
		JOIN parcel_features f
		  ON f.parcel_number = s.parcel_number AND f.roll_year = s.roll_year
		WHERE ` + validSaleClause + `
		  AND s.roll_year = $1
		  AND COALESCE(f.neighborhood_code, '') <> ''
		ORDER BY f.neighborhood_code
	`

	rows, err := r.db.Pool.Query(ctx, query, rollYear)
	if err != nil {
		return nil, fmt.Errorf("failed to list neighborhoods (roll_year=%d): %w", rollYear, err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect neighborhood codes: %w", err)
	}
	return codes, nil
}

// NeighborhoodAssessmentChange computes the median year-over-year assessment
// change, in percent, for parcels assessed in both rollYear-1 and rollYear.
func (r *parcelRepository) NeighborhoodAssessmentChange(ctx context.Context, neighborhoodCode string, rollYear int) (*float64, error) {
	query := `
		SELECT percentile_cont(0.5) WITHIN GROUP (
			ORDER BY (cur.assessed_value - prev.assessed_value) / prev.assessed_value * 100
		)
		FROM parcel_features cur
		JOIN parcel_features prev
		  ON prev.parcel_number = cur.parcel_number AND prev.roll_year = cur.roll_year - 1
		WHERE cur.roll_year = $2
		  AND upper(trim(cur.neighborhood_code)) = upper(trim($1))
		  AND cur.assessed_value > 0
		  AND prev.assessed_value > 0
	`

	var change *float64
	if err := r.db.Pool.QueryRow(ctx, query, neighborhoodCode, rollYear).Scan(&change); err != nil {
		return nil, fmt.Errorf("failed to compute assessment change for %s (roll_year=%d): %w", neighborhoodCode, rollYear, err)
	}
	return change, nil
}
