// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package places

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/jcodagnone/placelookup/utils/textutils"
)

// gazetteerReverseRadius bounds the nearest place lookup, in meters.
const gazetteerReverseRadius = 2_000

// Gazetteer answers lookups from a local table of places loaded into DuckDB.
type Gazetteer struct {
	db    *sql.DB
	limit int
}

// NewGazetteer wraps an open DuckDB handle; call CreateSchema before loading.
func NewGazetteer(db *sql.DB, limit int) *Gazetteer {
	if limit <= 0 {
		limit = 10
	}

	return &Gazetteer{db: db, limit: limit}
}

// Name implements Provider.
func (g *Gazetteer) Name() string { return "gazetteer" }

// CreateSchema creates the places table.
func (g *Gazetteer) CreateSchema() error {
	_, err := g.db.Exec(`
		CREATE TABLE IF NOT EXISTS places (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			address VARCHAR NOT NULL,
			folded_name VARCHAR NOT NULL,
			lat DOUBLE NOT NULL,
			lng DOUBLE NOT NULL,
			h3_res5 BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating places table: %w", err)
	}

	_, err = g.db.Exec(`CREATE INDEX IF NOT EXISTS places_h3_res5 ON places(h3_res5)`)
	if err != nil {
		return fmt.Errorf("creating places index: %w", err)
	}

	return nil
}

// Load reads a CSV (see ReadCSV) and inserts its places.
func (g *Gazetteer) Load(r io.Reader) (int, error) {
	batch, err := ReadCSV(r)
	if err != nil {
		return 0, fmt.Errorf("loading gazetteer: %w", err)
	}

	if err := g.Insert(batch); err != nil {
		return 0, err
	}

	return len(batch), nil
}

// Insert adds places in a single transaction. Places already present (same
// ID) are ignored.
func (g *Gazetteer) Insert(batch []Place) error {
	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO places(id, name, address, folded_name, lat, lng, h3_res5)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = rErr
		}

		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		cell, err := p.Coordinate().Cell(spatial.CellResolution)
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return err
		}

		_, err = stmt.Exec(
			p.ID,
			p.Name,
			p.Address,
			textutils.CollapseSpaces(textutils.LowerASCIIFolding(p.Name)),
			p.Latitude,
			p.Longitude,
			int64(cell),
		)
		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return fmt.Errorf("inserting %q: %w", p.Name, err)
		}
	}

	return tx.Commit()
}

// cellFilter returns a SQL predicate restricting rows to the region cells.
func cellFilter(region spatial.Region) (string, []any, error) {
	cells, err := region.Cells()
	if err != nil || len(cells) == 0 {
		return "", nil, err
	}

	placeholders := make([]string, len(cells))
	args := make([]any, len(cells))

	for i, cell := range cells {
		placeholders[i] = "?"
		args[i] = int64(cell)
	}

	return " AND h3_res5 IN (" + strings.Join(placeholders, ", ") + ")", args, nil
}

func (g *Gazetteer) query(ctx context.Context, where string, args ...any) ([]Place, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT name, address, lat, lng FROM places WHERE `+where, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, fmt.Errorf("querying gazetteer: %w", err)
	}
	defer rows.Close()

	var found []Place

	for rows.Next() {
		var name, address string

		var c spatial.Coordinate
		if err := rows.Scan(&name, &address, &c.Lat, &c.Lng); err != nil {
			return nil, fmt.Errorf("scanning place: %w", err)
		}

		found = append(found, NewPlace(name, address, c))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading places: %w", err)
	}

	return found, nil
}

// Search implements Resolver. Names match by accent and case insensitive
// substring; with a region only places inside it are returned, nearest first.
func (g *Gazetteer) Search(ctx context.Context, text string, region spatial.Region) ([]Place, error) {
	filter, cellArgs, err := cellFilter(region)
	if err != nil {
		return nil, fmt.Errorf("gazetteer search %q: %w", text, err)
	}

	args := append([]any{textutils.ContainsPattern(text)}, cellArgs...)

	where := `folded_name LIKE ? ESCAPE '\'` + filter + ` ORDER BY name`
	if region.IsZero() {
		where += fmt.Sprintf(" LIMIT %d", g.limit)
	}

	candidates, err := g.query(ctx, where, args...)
	if err != nil {
		return nil, fmt.Errorf("gazetteer search %q: %w", text, err)
	}

	found := candidates[:0]

	for _, p := range candidates {
		if region.Contains(p.Coordinate()) {
			found = append(found, p)
		}
	}

	if !region.IsZero() {
		sort.SliceStable(found, func(i, j int) bool {
			return region.Center.HaversineDistance(found[i].Coordinate()) <
				region.Center.HaversineDistance(found[j].Coordinate())
		})

		if len(found) > g.limit {
			found = found[:g.limit]
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("gazetteer search %q: %w", text, ErrNoResults)
	}

	return found, nil
}

// PlaceFor implements ReverseGeocoder with the nearest place within 2 km.
func (g *Gazetteer) PlaceFor(ctx context.Context, c spatial.Coordinate) (Place, error) {
	region := spatial.NewRegion(c, gazetteerReverseRadius)

	filter, args, err := cellFilter(region)
	if err != nil {
		return Place{}, fmt.Errorf("gazetteer reverse %s: %w", c, err)
	}

	candidates, err := g.query(ctx, "TRUE"+filter, args...)
	if err != nil {
		return Place{}, fmt.Errorf("gazetteer reverse %s: %w", c, err)
	}

	best, bestDistance := -1, float64(gazetteerReverseRadius)

	for i, p := range candidates {
		if d := c.HaversineDistance(p.Coordinate()); d <= bestDistance {
			best, bestDistance = i, d
		}
	}

	if best < 0 {
		return Place{}, fmt.Errorf("gazetteer reverse %s: %w", c, ErrNoResults)
	}

	return candidates[best], nil
}
