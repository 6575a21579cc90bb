// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var searchOptions = struct {
	Near   string
	Radius float64
	JSON   bool
}{}

// withSpinner runs fn while a spinner is shown on a terminal stderr.
func withSpinner(description string, fn func() error) error {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return fn()
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	ticked := make(chan struct{})

	go func() {
		defer close(ticked)

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	err := fn()

	close(done)
	<-ticked

	_ = bar.Finish()

	return err
}

func printPlaces(w io.Writer, found []places.Place) {
	name, address := 0, 0
	for _, p := range found {
		name = max(name, len([]rune(p.Name)))
		address = max(address, len([]rune(p.Address)))
	}

	for i, p := range found {
		fmt.Fprintf(w, "%2d  %s%s  %s%s  %s\n",
			i+1,
			p.Name, strings.Repeat(" ", name-len([]rune(p.Name))),
			p.Address, strings.Repeat(" ", address-len([]rune(p.Address))),
			p.Coordinate())
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search places by name",
	Long: `Runs a single search with the configured provider. With --near the
results are biased to a circle of --radius meters around that coordinate.

$ placelookup search --near -34.9011,-56.1645 "mercado del puerto"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		region := spatial.Region{}

		if searchOptions.Near != "" {
			c, err := spatial.ParseCoordinate(searchOptions.Near)
			if err != nil {
				return err
			}

			radius := searchOptions.Radius
			if radius <= 0 {
				radius = cfg.Search.RadiusMeters
			}

			region = spatial.NewRegion(c, radius)
		}

		ctx := cmd.Context()

		provider, closeProvider, err := cfg.NewProvider(ctx)
		if err != nil {
			return err
		}
		defer closeProvider()

		text := strings.Join(args, " ")

		var found []places.Place

		err = withSpinner("Searching "+provider.Name(), func() error {
			found, err = provider.Search(ctx, text, region)

			return err
		})
		if places.IsNoResults(err) {
			fmt.Fprintln(os.Stderr, "No results")

			return nil
		}

		if err != nil {
			return fmt.Errorf("searching %q: %w", text, err)
		}

		if searchOptions.JSON {
			return printJSON(os.Stdout, found)
		}

		printPlaces(os.Stdout, found)

		return nil
	},
}

func parseLatLng(args []string) (spatial.Coordinate, error) {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return spatial.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", args[0], err)
	}

	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return spatial.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", args[1], err)
	}

	c := spatial.Coordinate{Lat: lat, Lng: lng}
	if !c.Valid() {
		return spatial.Coordinate{}, fmt.Errorf("coordinate %s out of range", c)
	}

	return c, nil
}

var reverseCmd = &cobra.Command{
	Use:   "reverse <lat> <lng>",
	Short: "Name the place at a coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := parseLatLng(args)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		provider, closeProvider, err := cfg.NewProvider(ctx)
		if err != nil {
			return err
		}
		defer closeProvider()

		var p places.Place

		err = withSpinner("Looking up "+c.String(), func() error {
			p, err = provider.PlaceFor(ctx, c)

			return err
		})
		if err != nil {
			return fmt.Errorf("looking up %s: %w", c, err)
		}

		if searchOptions.JSON {
			return printJSON(os.Stdout, p)
		}

		fmt.Println(p)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reverseCmd)
	searchCmd.Flags().StringVar(
		&searchOptions.Near,
		"near",
		"",
		"Bias results around this lat,lng",
	)
	searchCmd.Flags().Float64Var(
		&searchOptions.Radius,
		"radius",
		0,
		"Radius of the bias region in meters. Defaults to the configured radius",
	)
	for _, c := range []*cobra.Command{searchCmd, reverseCmd} {
		c.Flags().BoolVar(
			&searchOptions.JSON,
			"json",
			false,
			"Print JSON instead of text",
		)
	}
}
