// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package lookup drives a place search screen: it debounces the text typed by
// the user, queries a places.Resolver and keeps the selected place.
package lookup

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
)

// DefaultQuietPeriod is how long the text must stay unchanged before a search is issued.
const DefaultQuietPeriod = 300 * time.Millisecond

// Clock abstracts timers so tests can control the quiet period.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options configures a Coordinator.
type Options struct {
	QuietPeriod time.Duration
	Clock       Clock
	// OnUpdate, when set, is called with a snapshot after every state change.
	// It runs outside the coordinator lock.
	OnUpdate func(Snapshot)
}

// Snapshot is the observable state of a search screen.
type Snapshot struct {
	Text      string         `json:"text"`
	Results   []places.Place `json:"results"`
	NoResults bool           `json:"no_results"`
	Error     string         `json:"error,omitempty"`
	Searching bool           `json:"searching"`
}

// Coordinator turns text changes into debounced, cancellable searches.
//
// Every text change cancels the pending search. A search only writes its
// results when it was not cancelled and its text is still the current one,
// so answers arriving out of order are dropped.
type Coordinator struct {
	resolver places.Resolver
	region   spatial.Region
	quiet    time.Duration
	clock    Clock
	onUpdate func(Snapshot)

	mu        sync.Mutex
	text      string
	cancel    context.CancelFunc
	pending   uint64 // generation of the running search, 0 when idle
	gen       uint64
	results   []places.Place
	noResults bool
	err       error
	closed    bool
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator searching around region. A zero
// region means no bias.
func NewCoordinator(resolver places.Resolver, region spatial.Region, opts Options) *Coordinator {
	c := &Coordinator{
		resolver: resolver,
		region:   region,
		quiet:    opts.QuietPeriod,
		clock:    opts.Clock,
		onUpdate: opts.OnUpdate,
	}

	if c.quiet <= 0 {
		c.quiet = DefaultQuietPeriod
	}

	if c.clock == nil {
		c.clock = realClock{}
	}

	return c
}

// Region returns the region searches are biased to.
func (c *Coordinator) Region() spatial.Region {
	return c.region
}

// OnTextChanged records the new text. An empty text clears the results
// right away; any other text schedules a search after the quiet period.
func (c *Coordinator) OnTextChanged(text string) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return
	}

	c.text = text
	c.cancelPendingLocked()

	if text == "" {
		c.results = nil
		c.noResults = false
		c.err = nil
		snapshot := c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snapshot)

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.pending = c.gen
	c.cancel = cancel
	gen := c.gen

	c.wg.Add(1)
	c.mu.Unlock()

	go c.search(ctx, cancel, gen, text)
}

func (c *Coordinator) cancelPendingLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	c.pending = 0
}

func (c *Coordinator) search(ctx context.Context, cancel context.CancelFunc, gen uint64, text string) {
	defer c.wg.Done()
	defer cancel()

	select {
	case <-ctx.Done():
		return
	case <-c.clock.After(c.quiet):
	}

	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	current := c.text
	c.mu.Unlock()

	if current != text {
		return
	}

	found, err := c.resolver.Search(ctx, text, c.region)

	c.mu.Lock()

	if ctx.Err() != nil || c.closed || c.text != text {
		c.mu.Unlock()

		return
	}

	if c.pending == gen {
		c.pending = 0
		c.cancel = nil
	}

	switch {
	case err == nil:
		c.results = found
		c.noResults = false
		c.err = nil
	case errors.Is(err, context.Canceled):
		c.mu.Unlock()

		return
	case places.IsNoResults(err):
		c.noResults = true
		c.err = nil
	default:
		log.Printf("searching %q: %v", text, err)

		c.noResults = false
		c.err = err
	}

	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

func (c *Coordinator) notify(s Snapshot) {
	if c.onUpdate != nil {
		c.onUpdate(s)
	}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		Text:      c.text,
		Results:   append([]places.Place(nil), c.results...),
		NoResults: c.noResults,
		Searching: c.pending != 0,
	}

	if c.err != nil {
		s.Error = c.err.Error()
	}

	return s
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Results returns the current results.
func (c *Coordinator) Results() []places.Place {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]places.Place(nil), c.results...)
}

// Err returns the last provider failure, nil after a successful search.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Place returns the current result with the given ID.
func (c *Coordinator) Place(id string) (places.Place, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.results {
		if p.ID == id {
			return p, true
		}
	}

	return places.Place{}, false
}

// Dismiss cancels the pending search; later text changes are ignored.
func (c *Coordinator) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cancelPendingLocked()
}

// Closed reports whether Dismiss was called.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Wait blocks until every started search has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
