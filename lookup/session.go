// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package lookup

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
)

// Locator is the part of location.Provider a session needs.
type Locator interface {
	Coordinate() (spatial.Coordinate, bool)
	RegionAround(radius float64) (spatial.Region, bool)
	Subscribe(fn func(spatial.Coordinate)) (unsubscribe func())
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Radius of the search region around the current coordinate, in meters.
	Radius      float64
	QuietPeriod time.Duration
	Clock       Clock
	// OnSearchUpdate is passed to the coordinators opened by the session.
	OnSearchUpdate func(Snapshot)
}

// Session is the main screen: the selected place and, while open, its search screen.
//
// The place at the first known coordinate is selected automatically, once,
// unless the user picked a place before that lookup finished.
type Session struct {
	locator  Locator
	resolver places.Resolver
	reverse  places.ReverseGeocoder
	opts     SessionOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	selected    *places.Place
	explicit    bool
	triggered   bool
	initialErr  error
	search      *Coordinator
	unsubscribe func()
}

// NewSession creates a session; call Start to begin the initial lookup.
func NewSession(ctx context.Context, locator Locator, resolver places.Resolver, reverse places.ReverseGeocoder, opts SessionOptions) *Session {
	if opts.Radius <= 0 {
		opts.Radius = spatial.DefaultRadius
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		locator:  locator,
		resolver: resolver,
		reverse:  reverse,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start selects the place at the current coordinate, or at the first one
// delivered when none is known yet.
func (s *Session) Start() {
	unsubscribe := s.locator.Subscribe(s.pickInitial)

	s.mu.Lock()
	if s.triggered {
		s.mu.Unlock()
		unsubscribe()

		return
	}

	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if c, ok := s.locator.Coordinate(); ok {
		s.pickInitial(c)
	}
}

// pickInitial runs at most once per session.
func (s *Session) pickInitial(c spatial.Coordinate) {
	s.mu.Lock()
	if s.triggered || s.ctx.Err() != nil {
		s.mu.Unlock()

		return
	}

	s.triggered = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.wg.Add(1)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	go func() {
		defer s.wg.Done()

		p, err := s.reverse.PlaceFor(s.ctx, c)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil {
			if s.ctx.Err() == nil {
				log.Printf("looking up the place at %s: %v", c, err)

				s.initialErr = err
			}

			return
		}

		if s.explicit || s.selected != nil {
			return
		}

		s.selected = &p
	}()
}

// OpenSearch shows the search screen. The region is taken once from the
// current coordinate; without one searches are not biased. Opening an
// already open search returns it.
func (s *Session) OpenSearch() *Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.search != nil && !s.search.Closed() {
		return s.search
	}

	region, ok := s.locator.RegionAround(s.opts.Radius)
	if !ok {
		region = spatial.Region{}
	}

	s.search = NewCoordinator(s.resolver, region, Options{
		QuietPeriod: s.opts.QuietPeriod,
		Clock:       s.opts.Clock,
		OnUpdate:    s.opts.OnSearchUpdate,
	})

	return s.search
}

// Search returns the open search screen, nil when closed.
func (s *Session) Search() *Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.search
}

// Pick selects p and closes the search screen.
func (s *Session) Pick(p places.Place) {
	s.mu.Lock()
	s.selected = &p
	s.explicit = true
	search := s.search
	s.search = nil
	s.mu.Unlock()

	if search != nil {
		search.Dismiss()
	}
}

// PickByID selects the result with the given ID from the open search screen.
func (s *Session) PickByID(id string) (places.Place, bool) {
	search := s.Search()
	if search == nil {
		return places.Place{}, false
	}

	p, ok := search.Place(id)
	if !ok {
		return places.Place{}, false
	}

	s.Pick(p)

	return p, true
}

// DismissSearch closes the search screen without selecting anything.
func (s *Session) DismissSearch() {
	s.mu.Lock()
	search := s.search
	s.search = nil
	s.mu.Unlock()

	if search != nil {
		search.Dismiss()
	}
}

// Selected returns the selected place, if any.
func (s *Session) Selected() (places.Place, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		return places.Place{}, false
	}

	return *s.selected, true
}

// SessionSnapshot is the observable state of a session.
type SessionSnapshot struct {
	Selected     *places.Place `json:"selected,omitempty"`
	Explicit     bool          `json:"explicit"`
	InitialError string        `json:"initial_error,omitempty"`
	SearchOpen   bool          `json:"search_open"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{Explicit: s.explicit, SearchOpen: s.search != nil}

	if s.selected != nil {
		p := *s.selected
		snap.Selected = &p
	}

	if s.initialErr != nil {
		snap.InitialError = s.initialErr.Error()
	}

	return snap
}

// Close cancels the initial lookup and the search screen and waits for them.
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.DismissSearch()
	s.wg.Wait()
}

// Wait blocks until the initial lookup, if started, has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}
