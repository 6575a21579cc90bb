// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package places

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/jcodagnone/placelookup/utils/httputils"
)

// DefaultGoogleMapsURL is the base of the Google Maps web services.
const DefaultGoogleMapsURL = "https://maps.googleapis.com/maps/api"

// GoogleMapsOptions configures NewGoogleMaps.
type GoogleMapsOptions struct {
	APIKey   string
	BaseURL  string
	Language string
	Limit    int
	Client   *http.Client
}

// GoogleMaps searches with the Places Text Search API and reverse geocodes
// with the Geocoding API.
type GoogleMaps struct {
	apiKey     string
	baseURL    string
	language   string
	limit      int
	httpClient *http.Client
}

// NewGoogleMaps creates a new Google Maps provider.
func NewGoogleMaps(opts GoogleMapsOptions) *GoogleMaps {
	g := &GoogleMaps{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		language:   opts.Language,
		limit:      opts.Limit,
		httpClient: opts.Client,
	}

	if g.baseURL == "" {
		g.baseURL = DefaultGoogleMapsURL
	}

	if g.httpClient == nil {
		g.httpClient = httputils.NewClient(httputils.ClientOptions{})
	}

	return g
}

// Name implements Provider.
func (g *GoogleMaps) Name() string { return "google_maps" }

type googleLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleTextSearchResponse struct {
	Results []struct {
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location googleLocation `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status       string `json:"status"` // OK, ZERO_RESULTS, etc.
	ErrorMessage string `json:"error_message"`
}

type googleGeocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location googleLocation `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// googleStatusError maps a Google web service status to an error, nil for OK.
func googleStatusError(status, message string) error {
	var e *GeocodingError

	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS":
		return ErrNoResults
	case "OVER_QUERY_LIMIT":
		e = &GeocodingError{Type: ErrorTypeRateLimit, Message: "google maps: over query limit"}
	case "OVER_DAILY_LIMIT", "REQUEST_DENIED":
		e = &GeocodingError{Type: ErrorTypeQuotaExceeded, Message: "google maps: " + strings.ToLower(status)}
	case "INVALID_REQUEST":
		e = &GeocodingError{Type: ErrorTypeInvalidRequest, Message: "google maps: invalid request"}
	case "UNKNOWN_ERROR":
		e = &GeocodingError{Type: ErrorTypeNetworkError, Message: "google maps: server error"}
	default:
		e = &GeocodingError{Type: ErrorTypeUnknown, Message: "google maps status: " + status}
	}

	if message != "" {
		e.Err = errors.New(message)
	}

	return e
}

// Search implements Resolver.
func (g *GoogleMaps) Search(ctx context.Context, text string, region spatial.Region) ([]Place, error) {
	params := url.Values{}
	params.Set("query", text)
	params.Set("key", g.apiKey)

	if g.language != "" {
		params.Set("language", g.language)
	}

	if !region.IsZero() {
		params.Set("location", region.Center.String())
		params.Set("radius", strconv.FormatFloat(region.Radius, 'f', 0, 64))
	}

	var resp googleTextSearchResponse
	if err := getJSON(ctx, g.httpClient, g.baseURL+"/place/textsearch/json", params, &resp); err != nil {
		return nil, fmt.Errorf("google maps search %q: %w", text, err)
	}

	if err := googleStatusError(resp.Status, resp.ErrorMessage); err != nil {
		return nil, fmt.Errorf("google maps search %q: %w", text, err)
	}

	found := make([]Place, 0, len(resp.Results))

	for _, r := range resp.Results {
		c := spatial.Coordinate{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
		found = append(found, NewPlace(r.Name, r.FormattedAddress, c))

		if g.limit > 0 && len(found) == g.limit {
			break
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("google maps search %q: %w", text, ErrNoResults)
	}

	return found, nil
}

// PlaceFor implements ReverseGeocoder.
func (g *GoogleMaps) PlaceFor(ctx context.Context, c spatial.Coordinate) (Place, error) {
	params := url.Values{}
	params.Set("latlng", c.String())
	params.Set("key", g.apiKey)

	if g.language != "" {
		params.Set("language", g.language)
	}

	var resp googleGeocodeResponse
	if err := getJSON(ctx, g.httpClient, g.baseURL+"/geocode/json", params, &resp); err != nil {
		return Place{}, fmt.Errorf("google maps reverse %s: %w", c, err)
	}

	if err := googleStatusError(resp.Status, resp.ErrorMessage); err != nil {
		return Place{}, fmt.Errorf("google maps reverse %s: %w", c, err)
	}

	if len(resp.Results) == 0 {
		return Place{}, fmt.Errorf("google maps reverse %s: %w", c, ErrNoResults)
	}

	result := resp.Results[0]
	at := spatial.Coordinate{Lat: result.Geometry.Location.Lat, Lng: result.Geometry.Location.Lng}

	return NewPlace(splitDisplayName(result.FormattedAddress), result.FormattedAddress, at), nil
}
