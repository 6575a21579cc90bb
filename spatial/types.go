// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package spatial holds the geographic value types shared by the location,
// places and lookup packages.
package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadius = 6371e3 // meters

// DefaultRadius is the radius, in meters, of the region used to bias searches
// around the current coordinate.
const DefaultRadius = 50_000

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// String returns the coordinate as "lat,lng".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Valid reports whether the coordinate is inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

// ParseCoordinate parses "lat,lng".
func ParseCoordinate(s string) (Coordinate, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinate{}, fmt.Errorf("spatial: invalid coordinate %q: expected lat,lng", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("spatial: invalid latitude %q: %w", latStr, err)
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("spatial: invalid longitude %q: %w", lngStr, err)
	}

	c := Coordinate{Lat: lat, Lng: lng}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("spatial: coordinate out of range: %s", c)
	}

	return c, nil
}

// HaversineDistance calculates the distance between two coordinates on Earth in meters.
func (c Coordinate) HaversineDistance(other Coordinate) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - c.Lat) * math.Pi / 180
	dLng := (other.Lng - c.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c2 := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c2
}

// Region is a circle used to bias place searches.
type Region struct {
	Center Coordinate `json:"center"`
	Radius float64    `json:"radius"` // meters
}

// NewRegion builds a region; a non positive radius takes DefaultRadius.
func NewRegion(center Coordinate, radius float64) Region {
	if radius <= 0 {
		radius = DefaultRadius
	}

	return Region{Center: center, Radius: radius}
}

// IsZero reports whether the region carries no bias at all.
func (r Region) IsZero() bool {
	return r.Radius <= 0
}

// Contains reports whether c is inside the region. A zero region contains everything.
func (r Region) Contains(c Coordinate) bool {
	if r.IsZero() {
		return true
	}

	return r.Center.HaversineDistance(c) <= r.Radius
}

// BoundingBox is an axis aligned box in degrees.
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundingBox returns the box enclosing the region circle.
func (r Region) BoundingBox() BoundingBox {
	const metersPerDegree = math.Pi * earthRadius / 180

	dLat := r.Radius / metersPerDegree

	dLng := 180.0
	if cos := math.Cos(r.Center.Lat * math.Pi / 180); cos > 1e-9 {
		dLng = math.Min(180, dLat/cos)
	}

	return BoundingBox{
		South: math.Max(-90, r.Center.Lat-dLat),
		West:  math.Max(-180, r.Center.Lng-dLng),
		North: math.Min(90, r.Center.Lat+dLat),
		East:  math.Min(180, r.Center.Lng+dLng),
	}
}
