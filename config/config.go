// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process configuration: defaults, then a YAML
// file, then the environment (including a .env file).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jcodagnone/placelookup/location"
	"github.com/jcodagnone/placelookup/lookup"
	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in Config.Provider.
const (
	ProviderGoogleMaps = "google_maps"
	ProviderNominatim  = "nominatim"
	ProviderElastic    = "elastic"
	ProviderGazetteer  = "gazetteer"
)

// Location source names accepted in LocationConfig.Source.
const (
	SourceStatic = "static"
	SourceKafka  = "kafka"
)

type Config struct {
	Provider  string          `yaml:"provider"`
	Search    SearchConfig    `yaml:"search"`
	Google    GoogleConfig    `yaml:"google"`
	Nominatim NominatimConfig `yaml:"nominatim"`
	Elastic   ElasticConfig   `yaml:"elastic"`
	Gazetteer GazetteerConfig `yaml:"gazetteer"`
	Location  LocationConfig  `yaml:"location"`
	Server    ServerConfig    `yaml:"server"`
	// TraceHTTP dumps provider requests and responses to stderr.
	TraceHTTP bool `yaml:"trace_http"`
}

type SearchConfig struct {
	QuietPeriod  time.Duration `yaml:"quiet_period"`
	RadiusMeters float64       `yaml:"radius_meters"`
	Limit        int           `yaml:"limit"`
}

type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
	// Project and KeyName locate the API key through Application Default
	// Credentials when APIKey is empty.
	Project string `yaml:"project"`
	KeyName string `yaml:"key_name"`
}

type NominatimConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	Language  string `yaml:"language"`
}

type ElasticConfig struct {
	URL   string `yaml:"url"`
	Index string `yaml:"index"`
}

type GazetteerConfig struct {
	// Path of a CSV file with name,address,lat,lng columns.
	Path string `yaml:"path"`
}

type LocationConfig struct {
	Source string `yaml:"source"`
	// Authorization is the answer given to the authorization request.
	Authorization string       `yaml:"authorization"`
	Static        StaticConfig `yaml:"static"`
	Kafka         KafkaConfig  `yaml:"kafka"`
}

type StaticConfig struct {
	Coordinates []spatial.Coordinate `yaml:"coordinates"`
	Interval    time.Duration        `yaml:"interval"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// SigningKey enables bearer token authentication on the API when set.
	SigningKey string        `yaml:"signing_key"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	// SessionIdle closes API sessions unused for that long. Zero disables it.
	SessionIdle time.Duration `yaml:"session_idle"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Provider: ProviderNominatim,
		Search: SearchConfig{
			QuietPeriod:  lookup.DefaultQuietPeriod,
			RadiusMeters: spatial.DefaultRadius,
			Limit:        10,
		},
		Google: GoogleConfig{
			BaseURL: places.DefaultGoogleMapsURL,
			KeyName: places.DefaultGoogleKeyName,
		},
		Nominatim: NominatimConfig{
			BaseURL:   places.DefaultNominatimURL,
			UserAgent: "placelookup",
		},
		Elastic: ElasticConfig{
			URL:   "http://localhost:9200",
			Index: places.DefaultElasticIndex,
		},
		Location: LocationConfig{
			Source:        SourceStatic,
			Authorization: location.AuthorizedWhenInUse.String(),
			Static: StaticConfig{
				Interval: time.Second,
			},
			Kafka: KafkaConfig{
				Topic:   "locations",
				GroupID: "placelookup",
			},
		},
		Server: ServerConfig{
			Addr:        "localhost:8080",
			TokenTTL:    time.Hour,
			SessionIdle: 30 * time.Minute,
		},
	}
}

// Load reads path (when not empty) over the defaults and applies the
// environment. A .env file in the working directory is loaded first. The
// result is not validated so callers can apply their own overrides before
// calling Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env file: %v", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields with the environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PLACELOOKUP_PROVIDER":    &c.Provider,
		"GOOGLE_MAPS_API_KEY":     &c.Google.APIKey,
		"GOOGLE_CLOUD_PROJECT":    &c.Google.Project,
		"NOMINATIM_URL":           &c.Nominatim.BaseURL,
		"NOMINATIM_USER_AGENT":    &c.Nominatim.UserAgent,
		"ELASTIC_URL":             &c.Elastic.URL,
		"ELASTIC_INDEX":           &c.Elastic.Index,
		"GAZETTEER_PATH":          &c.Gazetteer.Path,
		"LOCATION_SOURCE":         &c.Location.Source,
		"LOCATION_AUTHORIZATION":  &c.Location.Authorization,
		"KAFKA_TOPIC":             &c.Location.Kafka.Topic,
		"PLACELOOKUP_ADDR":        &c.Server.Addr,
		"PLACELOOKUP_SIGNING_KEY": &c.Server.SigningKey,
	}

	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Location.Kafka.Brokers = splitList(v)
	}

	if v, ok := lookup("PLACELOOKUP_QUIET_PERIOD"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing PLACELOOKUP_QUIET_PERIOD: %w", err)
		}

		c.Search.QuietPeriod = d
	}

	if v, ok := lookup("PLACELOOKUP_RADIUS"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing PLACELOOKUP_RADIUS: %w", err)
		}

		c.Search.RadiusMeters = r
	}

	if v, ok := lookup("LOCATION_COORDINATES"); ok && v != "" {
		var coordinates []spatial.Coordinate

		for _, s := range strings.Split(v, ";") {
			coordinate, err := spatial.ParseCoordinate(s)
			if err != nil {
				return fmt.Errorf("parsing LOCATION_COORDINATES: %w", err)
			}

			coordinates = append(coordinates, coordinate)
		}

		c.Location.Static.Coordinates = coordinates
	}

	return nil
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Validate reports the first inconsistency found.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGoogleMaps, ProviderNominatim:
	case ProviderElastic:
		if c.Elastic.URL == "" {
			return errors.New("elastic provider requires elastic.url")
		}
	case ProviderGazetteer:
		if c.Gazetteer.Path == "" {
			return errors.New("gazetteer provider requires gazetteer.path")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Server.SessionIdle < 0 {
		return fmt.Errorf("server.session_idle must not be negative, got %s", c.Server.SessionIdle)
	}

	if c.Search.QuietPeriod < 0 {
		return fmt.Errorf("search.quiet_period must not be negative, got %s", c.Search.QuietPeriod)
	}

	if c.Search.RadiusMeters < 0 {
		return fmt.Errorf("search.radius_meters must not be negative, got %g", c.Search.RadiusMeters)
	}

	switch c.Location.Source {
	case SourceStatic:
		for _, coordinate := range c.Location.Static.Coordinates {
			if !coordinate.Valid() {
				return fmt.Errorf("invalid static coordinate %s", coordinate)
			}
		}
	case SourceKafka:
		if len(c.Location.Kafka.Brokers) == 0 || c.Location.Kafka.Topic == "" {
			return errors.New("kafka location source requires brokers and topic")
		}
	default:
		return fmt.Errorf("unknown location source %q", c.Location.Source)
	}

	return nil
}
