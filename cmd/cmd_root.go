// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jcodagnone/placelookup/config"
	"github.com/jcodagnone/placelookup/location"
	"github.com/spf13/cobra"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "placelookup",
	Short: "find places near the current location",
	Long: `
placelookup follows the current location, searches named places around it
through a configurable provider (Google Maps, Nominatim, Elasticsearch or a
local gazetteer) and keeps the place the user selected.
`,
	SilenceUsage: true,
}

var rootOptions = struct {
	ConfigPath string
	Provider   string
	TraceHTTP  bool
}{}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the global flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(rootOptions.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("provider") {
		cfg.Provider = rootOptions.Provider
	}

	if flags.Changed("trace-http") {
		cfg.TraceHTTP = rootOptions.TraceHTTP
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// startLocation runs the configured location provider until the returned
// stop function is called.
func startLocation(ctx context.Context, cfg *config.Config) (*location.Provider, func(), error) {
	source, err := cfg.NewLocationSource()
	if err != nil {
		return nil, nil, fmt.Errorf("creating location source: %w", err)
	}

	provider := location.NewProvider(source)
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := provider.Run(ctx); err != nil {
			log.Printf("Location provider stopped: %v", err)
		}
	}()

	stop := func() {
		cancel()
		wg.Wait()

		if err := source.Close(); err != nil {
			log.Printf("Closing location source: %v", err)
		}
	}

	return provider, stop, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&rootOptions.ConfigPath,
		"config",
		"",
		"YAML configuration file",
	)
	rootCmd.PersistentFlags().StringVar(
		&rootOptions.Provider,
		"provider",
		"",
		"Place provider: google_maps, nominatim, elastic or gazetteer",
	)
	rootCmd.PersistentFlags().BoolVar(
		&rootOptions.TraceHTTP,
		"trace-http",
		false,
		"Display HTTP requests-responses sent to the place provider",
	)
}
