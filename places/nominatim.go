// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package places

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/jcodagnone/placelookup/utils/httputils"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimOptions configures NewNominatim.
type NominatimOptions struct {
	BaseURL string
	// UserAgent identifies the application, required by the Nominatim usage policy.
	UserAgent string
	Language  string
	Limit     int
	Client    *http.Client
}

// Nominatim queries an OpenStreetMap Nominatim server.
type Nominatim struct {
	baseURL    string
	language   string
	limit      int
	httpClient *http.Client
}

// NewNominatim creates a Nominatim provider. When opts.Client is nil a client
// sending opts.UserAgent is built.
func NewNominatim(opts NominatimOptions) *Nominatim {
	n := &Nominatim{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		language:   opts.Language,
		limit:      opts.Limit,
		httpClient: opts.Client,
	}

	if n.baseURL == "" {
		n.baseURL = DefaultNominatimURL
	}

	if n.limit <= 0 {
		n.limit = 10
	}

	if n.httpClient == nil {
		userAgent := opts.UserAgent
		if userAgent == "" {
			userAgent = "placelookup"
		}

		n.httpClient = httputils.NewClient(httputils.ClientOptions{
			Headers: map[string]string{"User-Agent": userAgent},
		})
	}

	return n
}

// Name implements Provider.
func (n *Nominatim) Name() string { return "nominatim" }

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

func (p nominatimPlace) toPlace() (Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid latitude %q: %w", p.Lat, err)
	}

	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid longitude %q: %w", p.Lon, err)
	}

	name := p.Name
	if name == "" {
		name = splitDisplayName(p.DisplayName)
	}

	return NewPlace(name, p.DisplayName, spatial.Coordinate{Lat: lat, Lng: lng}), nil
}

func (n *Nominatim) params() url.Values {
	params := url.Values{}
	params.Set("format", "jsonv2")

	if n.language != "" {
		params.Set("accept-language", n.language)
	}

	return params
}

// Search implements Resolver. The region is sent as a non bounding viewbox,
// which ranks nearby places first without excluding the rest.
func (n *Nominatim) Search(ctx context.Context, text string, region spatial.Region) ([]Place, error) {
	params := n.params()
	params.Set("q", text)
	params.Set("limit", strconv.Itoa(n.limit))

	if !region.IsZero() {
		box := region.BoundingBox()
		params.Set("viewbox", fmt.Sprintf("%f,%f,%f,%f", box.West, box.South, box.East, box.North))
		params.Set("bounded", "0")
	}

	var resp []nominatimPlace
	if err := getJSON(ctx, n.httpClient, n.baseURL+"/search", params, &resp); err != nil {
		return nil, fmt.Errorf("nominatim search %q: %w", text, err)
	}

	found := make([]Place, 0, len(resp))

	for _, r := range resp {
		p, err := r.toPlace()
		if err != nil {
			return nil, fmt.Errorf("nominatim search %q: %w", text, err)
		}

		found = append(found, p)
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("nominatim search %q: %w", text, ErrNoResults)
	}

	return found, nil
}

// PlaceFor implements ReverseGeocoder.
func (n *Nominatim) PlaceFor(ctx context.Context, c spatial.Coordinate) (Place, error) {
	params := n.params()
	params.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.Lng, 'f', -1, 64))

	var resp nominatimPlace
	if err := getJSON(ctx, n.httpClient, n.baseURL+"/reverse", params, &resp); err != nil {
		return Place{}, fmt.Errorf("nominatim reverse %s: %w", c, err)
	}

	// Nominatim answers 200 with an error field when nothing is there.
	if resp.Error != "" {
		return Place{}, fmt.Errorf("nominatim reverse %s: %s: %w", c, resp.Error, ErrNoResults)
	}

	p, err := resp.toPlace()
	if err != nil {
		return Place{}, fmt.Errorf("nominatim reverse %s: %w", c, err)
	}

	return p, nil
}
