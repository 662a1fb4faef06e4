package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distances.
const earthRadiusMeters = 6371008.8

// Point represents a PostGIS Point geometry (a parcel centroid).
// Coordinates follow GeoJSON order: longitude, then latitude.
// SRID 4326 (WGS84) is used for lat/lng coordinates.
type Point struct {
	Lng  float64
	Lat  float64
	SRID int
}

// NewPoint builds a WGS84 point.
func NewPoint(lat, lng float64) Point {
	return Point{Lng: lng, Lat: lat, SRID: 4326}
}

// Valid reports whether the point is a usable WGS84 coordinate.
// Null-island (0,0) is treated as missing; the assessor export uses it as a placeholder.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return false
	}
	return !(p.Lat == 0 && p.Lng == 0)
}

// DistanceMeters returns the haversine great-circle distance to other.
func (p Point) DistanceMeters(other Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Scan implements sql.Scanner for reading ST_AsGeoJSON(point) output.
func (p *Point) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan Point: expected []byte or string, got %T", value)
	}

	var geom geoJSONPoint
	if err := json.Unmarshal(raw, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal point geometry: %w", err)
	}
	if geom.Type != "Point" {
		return fmt.Errorf("expected Point type, got %s", geom.Type)
	}

	p.Lng = geom.Coordinates[0]
	p.Lat = geom.Coordinates[1]
	p.SRID = 4326
	return nil
}

// Value implements driver.Valuer, returning GeoJSON for ST_GeomFromGeoJSON.
func (p Point) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, nil
	}
	data, err := json.Marshal(geoJSONPoint{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal point to GeoJSON: %w", err)
	}
	return string(data), nil
}

// MarshalJSON renders the point as a GeoJSON geometry.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}})
}

// UnmarshalJSON parses a GeoJSON Point geometry.
func (p *Point) UnmarshalJSON(data []byte) error {
	var geom geoJSONPoint
	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal point: %w", err)
	}
	if geom.Type != "" && geom.Type != "Point" {
		return fmt.Errorf("expected Point type, got %s", geom.Type)
	}
	p.Lng = geom.Coordinates[0]
	p.Lat = geom.Coordinates[1]
	p.SRID = 4326
	return nil
}
