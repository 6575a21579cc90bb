// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/olivere/elastic/v7"
)

// DefaultElasticIndex is the index holding place documents.
const DefaultElasticIndex = "places"

// reverseDistance bounds the nearest place lookup.
const reverseDistance = "2km"

const elasticMapping = `{
	"mappings": {
		"properties": {
			"name":     {"type": "text"},
			"address":  {"type": "text"},
			"location": {"type": "geo_point"}
		}
	}
}`

// ElasticOptions configures NewElastic.
type ElasticOptions struct {
	URL    string
	Index  string
	Limit  int
	Client *http.Client
}

// Elastic searches place documents stored in Elasticsearch.
type Elastic struct {
	client *elastic.Client
	index  string
	limit  int
}

type elasticPlace struct {
	Name     string           `json:"name"`
	Address  string           `json:"address"`
	Location elastic.GeoPoint `json:"location"`
}

// NewElastic connects to the cluster at opts.URL. Sniffing and health checks
// are off so a single node behind a proxy works.
func NewElastic(opts ElasticOptions) (*Elastic, error) {
	options := []elastic.ClientOptionFunc{
		elastic.SetURL(opts.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}

	if opts.Client != nil {
		options = append(options, elastic.SetHttpClient(opts.Client))
	}

	client, err := elastic.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("creating elastic client: %w", err)
	}

	e := &Elastic{client: client, index: opts.Index, limit: opts.Limit}
	if e.index == "" {
		e.index = DefaultElasticIndex
	}

	if e.limit <= 0 {
		e.limit = 10
	}

	return e, nil
}

// Name implements Provider.
func (e *Elastic) Name() string { return "elastic" }

func elasticError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}

	var esErr *elastic.Error
	if errors.As(err, &esErr) {
		geoErr := ClassifyHTTPError(esErr.Status, "")
		geoErr.Err = err

		return geoErr
	}

	if elastic.IsTimeout(err) {
		return &GeocodingError{Type: ErrorTypeTimeout, Message: "elastic timed out", Err: err}
	}

	return classifyTransportError(ctx, err)
}

func (e *Elastic) hitsToPlaces(hits *elastic.SearchHits) []Place {
	if hits == nil {
		return nil
	}

	found := make([]Place, 0, len(hits.Hits))

	for _, hit := range hits.Hits {
		var doc elasticPlace
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			log.Printf("skipping document %s: %v", hit.Id, err)

			continue
		}

		c := spatial.Coordinate{Lat: doc.Location.Lat, Lng: doc.Location.Lon}
		found = append(found, NewPlace(doc.Name, doc.Address, c))
	}

	return found
}

// Search implements Resolver.
func (e *Elastic) Search(ctx context.Context, text string, region spatial.Region) ([]Place, error) {
	query := elastic.NewBoolQuery().Must(elastic.NewMatchQuery("name", text).Fuzziness("AUTO"))

	if !region.IsZero() {
		query = query.Filter(elastic.NewGeoDistanceQuery("location").
			Lat(region.Center.Lat).
			Lon(region.Center.Lng).
			Distance(fmt.Sprintf("%.0fm", region.Radius)))
	}

	result, err := e.client.Search().
		Index(e.index).
		Query(query).
		Size(e.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("elastic search %q: %w", text, elasticError(ctx, err))
	}

	found := e.hitsToPlaces(result.Hits)
	if len(found) == 0 {
		return nil, fmt.Errorf("elastic search %q: %w", text, ErrNoResults)
	}

	return found, nil
}

// PlaceFor implements ReverseGeocoder with the nearest indexed place.
func (e *Elastic) PlaceFor(ctx context.Context, c spatial.Coordinate) (Place, error) {
	result, err := e.client.Search().
		Index(e.index).
		Query(elastic.NewGeoDistanceQuery("location").Lat(c.Lat).Lon(c.Lng).Distance(reverseDistance)).
		SortBy(elastic.NewGeoDistanceSort("location").
			Point(c.Lat, c.Lng).
			Asc().
			Unit("m").
			DistanceType("arc")).
		Size(1).
		Do(ctx)
	if err != nil {
		return Place{}, fmt.Errorf("elastic reverse %s: %w", c, elasticError(ctx, err))
	}

	found := e.hitsToPlaces(result.Hits)
	if len(found) == 0 {
		return Place{}, fmt.Errorf("elastic reverse %s: %w", c, ErrNoResults)
	}

	return found[0], nil
}

// EnsureIndex creates the index with a geo_point mapping when missing.
func (e *Elastic) EnsureIndex(ctx context.Context) error {
	exists, err := e.client.IndexExists(e.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", e.index, err)
	}

	if exists {
		return nil
	}

	created, err := e.client.CreateIndex(e.index).BodyString(elasticMapping).Do(ctx)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", e.index, err)
	}

	if !created.Acknowledged {
		log.Printf("⚠️ creation of index %s was not acknowledged", e.index)
	}

	return nil
}

// Index stores places in bulk, keyed by their ID. It returns the number of
// documents indexed successfully.
func (e *Elastic) Index(ctx context.Context, batch []Place) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	bulk := e.client.Bulk().Index(e.index)

	for _, p := range batch {
		doc := elasticPlace{
			Name:     p.Name,
			Address:  p.Address,
			Location: elastic.GeoPoint{Lat: p.Latitude, Lon: p.Longitude},
		}
		bulk = bulk.Add(elastic.NewBulkIndexRequest().Id(p.ID).Doc(doc))
	}

	resp, err := bulk.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk indexing: %w", err)
	}

	failed := resp.Failed()
	for _, item := range failed {
		if item.Error != nil {
			log.Printf("failed to index %s: %s", item.Id, item.Error.Reason)
		}
	}

	return len(batch) - len(failed), nil
}
