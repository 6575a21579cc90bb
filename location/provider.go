// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package location tracks the device coordinate and the permission to read it.
//
// A Provider consumes the events of a platform Source: authorization changes,
// location fixes and delivery failures. It keeps the latest coordinate and
// notifies subscribers of every fix.
package location

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jcodagnone/placelookup/spatial"
)

// ErrAuthorizationDenied is kept as the provider error once access is refused.
var ErrAuthorizationDenied = errors.New("location access denied")

// EventKind tells which field of an Event is set.
type EventKind int

const (
	// EventLocations carries one or more fixes, oldest first.
	EventLocations EventKind = iota
	// EventAuthorization carries a new authorization state.
	EventAuthorization
	// EventError carries a delivery failure.
	EventError
)

// Event is a callback from the platform location service.
type Event struct {
	Kind        EventKind
	Coordinates []spatial.Coordinate
	State       AuthorizationState
	Err         error
}

// Source is the platform location service. Its methods must not block.
type Source interface {
	Events() <-chan Event
	RequestWhenInUseAuthorization()
	StartUpdating()
	StopUpdating()
	Close() error
}

// Provider holds the current coordinate and authorization state.
type Provider struct {
	source Source

	mu         sync.RWMutex
	coordinate spatial.Coordinate
	hasFix     bool
	state      AuthorizationState
	err        error
	observers  map[int]func(spatial.Coordinate)
	nextID     int
}

// NewProvider creates a provider reading from source. Call Run to start it.
func NewProvider(source Source) *Provider {
	return &Provider{
		source:    source,
		observers: make(map[int]func(spatial.Coordinate)),
	}
}

// Run asks for permission, starts updates and handles events until ctx is
// done or the source closes its event channel.
func (p *Provider) Run(ctx context.Context) error {
	p.source.RequestWhenInUseAuthorization()
	p.source.StartUpdating()

	defer p.source.StopUpdating()

	events := p.source.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			p.handle(ev)
		}
	}
}

func (p *Provider) handle(ev Event) {
	switch ev.Kind {
	case EventLocations:
		p.handleLocations(ev.Coordinates)
	case EventAuthorization:
		p.handleAuthorization(ev.State)
	case EventError:
		p.handleError(ev.Err)
	default:
		log.Printf("ignoring location event of kind %d", ev.Kind)
	}
}

func (p *Provider) handleLocations(coordinates []spatial.Coordinate) {
	if len(coordinates) == 0 {
		return
	}

	latest := coordinates[len(coordinates)-1]

	p.mu.Lock()
	if p.state.Refused() {
		p.mu.Unlock()

		return
	}

	p.coordinate = latest
	p.hasFix = true

	observers := make([]func(spatial.Coordinate), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn(latest)
	}
}

func (p *Provider) handleAuthorization(state AuthorizationState) {
	if !state.Valid() {
		log.Printf("unknown location authorization %s, asking again", state)

		state = NotDetermined
	}

	p.mu.Lock()
	p.state = state

	switch {
	case state.Refused():
		p.err = ErrAuthorizationDenied
	case state.Granted() && errors.Is(p.err, ErrAuthorizationDenied):
		p.err = nil
	}
	p.mu.Unlock()

	switch {
	case state.Granted():
		p.source.StartUpdating()
	case state.Refused():
		log.Printf("⚠️ location access %s", state)
		p.source.StopUpdating()
	default:
		p.source.RequestWhenInUseAuthorization()
	}
}

func (p *Provider) handleError(err error) {
	if err == nil {
		return
	}

	log.Printf("location update failed: %v", err)

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Coordinate returns the latest fix; ok is false until one arrives.
func (p *Provider) Coordinate() (spatial.Coordinate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.coordinate, p.hasFix
}

// AuthorizationState returns the last state reported by the platform.
func (p *Provider) AuthorizationState() AuthorizationState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// Err returns the last failure: ErrAuthorizationDenied or a delivery error.
func (p *Provider) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.err
}

// RegionAround returns the region of the given radius around the latest fix.
func (p *Provider) RegionAround(radius float64) (spatial.Region, bool) {
	c, ok := p.Coordinate()
	if !ok {
		return spatial.Region{}, false
	}

	return spatial.NewRegion(c, radius), true
}

// Subscribe registers fn to be called with every fix. The returned function
// removes it and may be called more than once, including from fn itself.
func (p *Provider) Subscribe(fn func(spatial.Coordinate)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// Status is a point in time view of the provider.
type Status struct {
	Coordinate    spatial.Coordinate `json:"coordinate"`
	HasFix        bool               `json:"has_fix"`
	Authorization AuthorizationState `json:"authorization"`
	Error         string             `json:"error,omitempty"`
}

// Status returns the current coordinate, authorization and error.
func (p *Provider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{Coordinate: p.coordinate, HasFix: p.hasFix, Authorization: p.state}
	if p.err != nil {
		s.Error = p.err.Error()
	}

	return s
}
