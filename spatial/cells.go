// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"
)

// CellResolution is the H3 resolution used to index places.
const CellResolution = 5

// average hexagon edge length at CellResolution, in meters.
const cellEdgeLength = 9_854.09

// maxDiskRings bounds the size of a region cover; larger regions are not prefiltered.
const maxDiskRings = 16

// Cell returns the H3 cell containing c at the given resolution.
func (c Coordinate) Cell(res int) (h3.Cell, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lng), res)
	if err != nil {
		return 0, fmt.Errorf("spatial: indexing %s: %w", c, err)
	}

	return cell, nil
}

// Cells returns the CellResolution cells covering the region. It returns nil
// when the region is zero or too large to be covered cheaply, meaning no
// prefilter applies.
func (r Region) Cells() ([]h3.Cell, error) {
	if r.IsZero() {
		return nil, nil
	}

	k := int(math.Ceil(r.Radius/(cellEdgeLength*1.5))) + 1
	if k > maxDiskRings {
		return nil, nil
	}

	origin, err := r.Center.Cell(CellResolution)
	if err != nil {
		return nil, err
	}

	cells, err := h3.GridDisk(origin, k)
	if err != nil {
		return nil, fmt.Errorf("spatial: covering region around %s: %w", r.Center, err)
	}

	return cells, nil
}
