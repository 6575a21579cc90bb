// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package places resolves free text and coordinates into named places.
//
// A Provider answers two questions: which places match a text near a region
// (Search) and which place is at a coordinate (PlaceFor). Implementations talk
// to Google Maps, Nominatim, Elasticsearch or a local DuckDB gazetteer.
package places

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jcodagnone/placelookup/spatial"
)

// ErrNoResults is returned when a provider answered but found nothing.
var ErrNoResults = errors.New("no location found")

// placeNamespace scopes the name based identifiers of places.
var placeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jcodagnone/placelookup/place"))

// Place is a named location.
type Place struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewPlace builds a place whose ID only depends on its name and coordinate,
// so the same answer from a provider always yields the same ID.
func NewPlace(name, address string, c spatial.Coordinate) Place {
	name = strings.TrimSpace(name)
	key := fmt.Sprintf("%s\x00%.6f\x00%.6f", name, c.Lat, c.Lng)

	return Place{
		ID:        uuid.NewSHA1(placeNamespace, []byte(key)).String(),
		Name:      name,
		Address:   strings.TrimSpace(address),
		Latitude:  c.Lat,
		Longitude: c.Lng,
	}
}

// Coordinate returns the place location.
func (p Place) Coordinate() spatial.Coordinate {
	return spatial.Coordinate{Lat: p.Latitude, Lng: p.Longitude}
}

func (p Place) String() string {
	if p.Address == "" || p.Address == p.Name {
		return fmt.Sprintf("%s (%s)", p.Name, p.Coordinate())
	}

	return fmt.Sprintf("%s, %s (%s)", p.Name, p.Address, p.Coordinate())
}

// Resolver searches places by free text, biased towards a region.
// An empty answer is reported as ErrNoResults, never as an empty slice.
type Resolver interface {
	Search(ctx context.Context, text string, region spatial.Region) ([]Place, error)
}

// ReverseGeocoder finds the place at a coordinate.
type ReverseGeocoder interface {
	PlaceFor(ctx context.Context, c spatial.Coordinate) (Place, error)
}

// Provider is a complete place backend.
type Provider interface {
	Resolver
	ReverseGeocoder
	Name() string
}

// splitDisplayName returns the first component of a comma separated address.
func splitDisplayName(displayName string) string {
	name, _, _ := strings.Cut(displayName, ",")

	return strings.TrimSpace(name)
}
