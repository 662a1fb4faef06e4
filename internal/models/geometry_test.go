package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointImplementsInterfaces(t *testing.T) {
	var _ driver.Valuer = Point{}
	var p Point
	var scanner interface{} = &p
	_, ok := scanner.(interface{ Scan(interface{}) error })
	assert.True(t, ok, "Point should implement sql.Scanner")
}

func TestPointValid(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"mount vernon", NewPoint(48.4212, -122.3340), true},
		{"null island", NewPoint(0, 0), false},
		{"latitude out of range", NewPoint(91, -122), false},
		{"longitude out of range", NewPoint(48, -181), false},
		{"nan", Point{Lat: math.NaN(), Lng: -122}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.point.Valid())
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	// One degree of latitude is ~111.2 km everywhere.
	a := NewPoint(48.0, -122.0)
	b := NewPoint(49.0, -122.0)
	assert.InDelta(t, 111195, a.DistanceMeters(b), 50)

	// One degree of longitude shrinks with cos(latitude).
	c := NewPoint(48.0, -121.0)
	expected := 111195 * math.Cos(48*math.Pi/180)
	assert.InDelta(t, expected, a.DistanceMeters(c), 100)

	assert.Zero(t, a.DistanceMeters(a))
	assert.InDelta(t, a.DistanceMeters(b), b.DistanceMeters(a), 1e-9)
}

func TestPointScan(t *testing.T) {
	tests := []struct {
		name      string
		input     interface{}
		wantError bool
		wantLat   float64
	}{
		{name: "nil value", input: nil},
		{name: "bytes", input: []byte(`{"type":"Point","coordinates":[-122.33,48.42]}`), wantLat: 48.42},
		{name: "string", input: `{"type":"Point","coordinates":[-122.33,48.42]}`, wantLat: 48.42},
		{name: "invalid JSON", input: []byte(`{invalid}`), wantError: true},
		{name: "wrong type", input: []byte(`{"type":"Polygon","coordinates":[]}`), wantError: true},
		{name: "unsupported input type", input: 42, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			err := p.Scan(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLat, p.Lat)
		})
	}
}

func TestPointValueAndJSON(t *testing.T) {
	p := NewPoint(48.42, -122.33)

	val, err := p.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[-122.33,48.42]}`, val.(string))

	empty, err := Point{}.Value()
	require.NoError(t, err)
	assert.Nil(t, empty)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Point
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p, decoded)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"LineString","coordinates":[0,0]}`), &decoded))
}
