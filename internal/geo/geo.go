// Package geo provides the coordinate value types shared by both ingestion paths.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lng float64
	Lat float64
}

// Valid reports whether both coordinates are finite and within range.
func (p Point) Valid() bool {
	return finite(p.Lng) && finite(p.Lat) &&
		p.Lng >= -180 && p.Lng <= 180 &&
		p.Lat >= -90 && p.Lat <= 90
}

// GeofenceBounds is an axis-aligned bounding box scoping ingestion to a launch area.
type GeofenceBounds struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// Validate checks that every coordinate is finite and in range and that
// min <= max on both axes.
func (b GeofenceBounds) Validate() error {
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"min_lng", b.MinLng},
		{"min_lat", b.MinLat},
		{"max_lng", b.MaxLng},
		{"max_lat", b.MaxLat},
	} {
		if !finite(c.value) {
			return fmt.Errorf("geofence bounds %s must be a finite number", c.name)
		}
	}
	if b.MinLng < -180 || b.MinLng > 180 || b.MaxLng < -180 || b.MaxLng > 180 {
		return fmt.Errorf("geofence bounds longitudes must be within [-180, 180]")
	}
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("geofence bounds latitudes must be within [-90, 90]")
	}
	if b.MinLng > b.MaxLng {
		return fmt.Errorf("geofence bounds min_lng %v exceeds max_lng %v", b.MinLng, b.MaxLng)
	}
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("geofence bounds min_lat %v exceeds max_lat %v", b.MinLat, b.MaxLat)
	}
	return nil
}

// Contains reports whether p lies inside the bounds. Edges count as inside.
func (b GeofenceBounds) Contains(p Point) bool {
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng &&
		p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// ParseBounds parses the CLI form "min_lng,min_lat,max_lng,max_lat" and
// validates the result.
func ParseBounds(s string) (GeofenceBounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeofenceBounds{}, fmt.Errorf("geofence bounds must have exactly 4 comma-separated values, got %d", len(parts))
	}

	values := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return GeofenceBounds{}, fmt.Errorf("geofence bounds value %q is not a number", strings.TrimSpace(part))
		}
		values[i] = v
	}

	bounds := GeofenceBounds{
		MinLng: values[0],
		MinLat: values[1],
		MaxLng: values[2],
		MaxLat: values[3],
	}
	if err := bounds.Validate(); err != nil {
		return GeofenceBounds{}, err
	}
	return bounds, nil
}

// String renders the bounds in the same comma-separated form ParseBounds accepts.
func (b GeofenceBounds) String() string {
	return fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(b.MinLng), formatCoord(b.MinLat),
		formatCoord(b.MaxLng), formatCoord(b.MaxLat))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
