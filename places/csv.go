// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package places

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jcodagnone/placelookup/spatial"
)

var csvColumns = []string{"name", "address", "lat", "lng"}

// ReadCSV reads places from a CSV with a header naming at least the columns
// name, address, lat and lng, in any order.
func ReadCSV(r io.Reader) ([]Place, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q in header %v", col, header)
		}
	}

	var found []Place

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}

		line, _ := reader.FieldPos(0)

		field := func(col string) string {
			if i := index[col]; i < len(record) {
				return strings.TrimSpace(record[i])
			}

			return ""
		}

		lat, err := strconv.ParseFloat(field("lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid lat: %w", line, err)
		}

		lng, err := strconv.ParseFloat(field("lng"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid lng: %w", line, err)
		}

		c := spatial.Coordinate{Lat: lat, Lng: lng}
		if !c.Valid() {
			return nil, fmt.Errorf("line %d: coordinate out of range: %s", line, c)
		}

		name := field("name")
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name", line)
		}

		found = append(found, NewPlace(name, field("address"), c))
	}

	return found, nil
}
