// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/placelookup/location"
	"github.com/jcodagnone/placelookup/lookup"
	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/utils/httputils"
	"github.com/jcodagnone/placelookup/utils/textutils"
)

func (c *Config) httpClient(headers map[string]string) *http.Client {
	opts := httputils.ClientOptions{Headers: headers}
	if c.TraceHTTP {
		opts.Trace = os.Stderr
	}

	return httputils.NewClient(opts)
}

// NewProvider builds the configured place provider. The returned function
// releases its resources.
func (c *Config) NewProvider(ctx context.Context) (places.Provider, func() error, error) {
	noop := func() error { return nil }

	switch c.Provider {
	case ProviderGoogleMaps:
		apiKey := c.Google.APIKey
		if apiKey == "" {
			log.Println("GOOGLE_MAPS_API_KEY is not set. Attempting to retrieve via ADC...")

			var err error

			apiKey, err = places.GoogleAPIKeyFromADC(ctx, c.Google.Project, c.Google.KeyName)
			if err != nil {
				return nil, nil, fmt.Errorf("retrieving Google Maps API key: %w", err)
			}

			log.Println("✅ Retrieved Google Maps API key via ADC")
		}

		return places.NewGoogleMaps(places.GoogleMapsOptions{
			APIKey:   apiKey,
			BaseURL:  c.Google.BaseURL,
			Language: c.Google.Language,
			Limit:    c.Search.Limit,
			Client:   c.httpClient(nil),
		}), noop, nil

	case ProviderNominatim:
		headers := map[string]string{"User-Agent": c.Nominatim.UserAgent}
		if c.Nominatim.Language != "" {
			headers["Accept-Language"] = c.Nominatim.Language
		}

		return places.NewNominatim(places.NominatimOptions{
			BaseURL:  c.Nominatim.BaseURL,
			Language: c.Nominatim.Language,
			Limit:    c.Search.Limit,
			Client:   c.httpClient(headers),
		}), noop, nil

	case ProviderElastic:
		e, err := places.NewElastic(places.ElasticOptions{
			URL:    c.Elastic.URL,
			Index:  c.Elastic.Index,
			Limit:  c.Search.Limit,
			Client: c.httpClient(nil),
		})
		if err != nil {
			return nil, nil, err
		}

		return e, noop, nil

	case ProviderGazetteer:
		return c.openGazetteer()
	}

	return nil, nil, fmt.Errorf("unknown provider %q", c.Provider)
}

func (c *Config) openGazetteer() (places.Provider, func() error, error) {
	f, err := os.Open(c.Gazetteer.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening gazetteer: %w", err)
	}
	defer f.Close()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	g := places.NewGazetteer(db, c.Search.Limit)
	if err := g.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, err
	}

	n, err := g.Load(f)
	if err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("loading %s: %w", c.Gazetteer.Path, err)
	}

	log.Printf("📍 Loaded %s places from %s", textutils.FormatCount(n), c.Gazetteer.Path)

	return g, db.Close, nil
}

// NewLocationSource builds the configured location source.
func (c *Config) NewLocationSource() (location.Source, error) {
	auth := location.ParseAuthorizationState(c.Location.Authorization)

	switch c.Location.Source {
	case SourceStatic:
		return location.NewStaticSource(auth, c.Location.Static.Interval, c.Location.Static.Coordinates...), nil
	case SourceKafka:
		k := c.Location.Kafka
		if len(k.Brokers) == 0 {
			return nil, errors.New("no kafka brokers configured")
		}

		return location.NewKafkaSource(location.NewKafkaReader(k.Brokers, k.Topic, k.GroupID), auth), nil
	}

	return nil, fmt.Errorf("unknown location source %q", c.Location.Source)
}

// SessionOptions returns the options for sessions created by the CLI and the API.
func (c *Config) SessionOptions() lookup.SessionOptions {
	return lookup.SessionOptions{
		Radius:      c.Search.RadiusMeters,
		QuietPeriod: c.Search.QuietPeriod,
	}
}
