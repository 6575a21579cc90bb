// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/jcodagnone/placelookup/location"
	"github.com/jcodagnone/placelookup/lookup"
	"github.com/jcodagnone/placelookup/spatial"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// repl drives a lookup session from text lines: every line is the new search
// text, and lines starting with ':' are commands.
type repl struct {
	mu      sync.Mutex
	out     io.Writer
	session *lookup.Session
	status  func() location.Status
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, format, args...)
}

// printSnapshot is called by the search screen after every change.
func (r *repl) printSnapshot(s lookup.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case s.Error != "":
		fmt.Fprintf(r.out, "⚠️  %s\n", s.Error)
	case s.NoResults, len(s.Results) == 0:
		fmt.Fprintln(r.out, "No results")
	default:
		printPlaces(r.out, s.Results)
	}
}

func (r *repl) where() {
	status := r.status()

	// Without a fix the coordinate is reported as 0,0.
	r.printf("📍 %s (%s)\n", status.Coordinate, status.Authorization)

	if status.Error != "" {
		r.printf("⚠️  %s\n", status.Error)
	}

	snap := r.session.Snapshot()

	switch {
	case snap.Selected != nil:
		r.printf("Selected: %s\n", snap.Selected)
	case snap.InitialError != "":
		r.printf("Selected: none (%s)\n", snap.InitialError)
	default:
		r.printf("Selected: none\n")
	}
}

func (r *repl) pick(arg string) {
	search := r.session.Search()
	if search == nil {
		r.printf("No search in progress\n")

		return
	}

	results := search.Results()

	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(results) {
		r.printf("Pick a result between 1 and %d\n", len(results))

		return
	}

	p := results[n-1]
	r.session.Pick(p)
	r.printf("✅ Selected %s\n", p)
}

// exec handles one input line and reports whether the loop must end.
func (r *repl) exec(line string) bool {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

	switch command {
	case ":quit", ":q":
		return true
	case ":where":
		r.where()
	case ":cancel":
		r.session.DismissSearch()
		r.printf("Search cancelled\n")
	case ":pick":
		r.pick(arg)
	default:
		r.session.OpenSearch().OnTextChanged(strings.TrimSpace(line))
	}

	return false
}

func (r *repl) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if r.exec(scanner.Text()) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Search places as you type",
	Long: `Reads the search text line by line from stdin. Results are printed as
they arrive; an empty line clears them.

Commands:
  :pick N   select the Nth result
  :cancel   close the search without selecting
  :where    show the current location and the selected place
  :quit     exit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		provider, closeProvider, err := cfg.NewProvider(ctx)
		if err != nil {
			return err
		}
		defer closeProvider()

		locator, stopLocation, err := startLocation(ctx, cfg)
		if err != nil {
			return err
		}
		defer stopLocation()

		r := &repl{out: os.Stdout, status: locator.Status}

		opts := cfg.SessionOptions()
		opts.OnSearchUpdate = r.printSnapshot
		r.session = lookup.NewSession(ctx, locator, provider, provider, opts)
		r.session.Start()

		defer r.session.Close()

		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintf(os.Stderr, "Searching with %s. Type a place name, :pick N or :quit.\n", provider.Name())
		}

		unsubscribe := locator.Subscribe(func(c spatial.Coordinate) {
			if _, ok := r.session.Selected(); !ok {
				r.printf("📍 %s\n", c)
			}
		})
		defer unsubscribe()

		done := make(chan error, 1)

		go func() {
			done <- r.run(os.Stdin)
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
