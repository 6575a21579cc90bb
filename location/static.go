// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jcodagnone/placelookup/spatial"
)

const eventBuffer = 16

// StaticSource replays a fixed list of coordinates, like a simulator custom
// location. The authorization request is answered with a configured state.
type StaticSource struct {
	events        chan Event
	authorization AuthorizationState
	interval      time.Duration
	fixes         []spatial.Coordinate

	mu        sync.Mutex
	requested bool
	cancel    context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

// NewStaticSource creates a source that, once authorized and started, emits
// each fix in order separated by interval (immediately when interval is 0).
func NewStaticSource(authorization AuthorizationState, interval time.Duration, fixes ...spatial.Coordinate) *StaticSource {
	return &StaticSource{
		events:        make(chan Event, eventBuffer),
		authorization: authorization,
		interval:      interval,
		fixes:         fixes,
	}
}

// Events implements Source.
func (s *StaticSource) Events() <-chan Event {
	return s.events
}

// send queues ev; it must be called with s.mu held.
func (s *StaticSource) send(ev Event) {
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		log.Printf("location event buffer full, dropping event of kind %d", ev.Kind)
	}
}

// RequestWhenInUseAuthorization implements Source.
func (s *StaticSource) RequestWhenInUseAuthorization() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The platform prompts only once.
	if s.requested {
		return
	}

	s.requested = true
	s.send(Event{Kind: EventAuthorization, State: s.authorization})
}

// StartUpdating implements Source. Nothing is emitted without permission.
func (s *StaticSource) StartUpdating() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cancel != nil || !s.requested || !s.authorization.Granted() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)

	go s.replay(ctx)
}

func (s *StaticSource) replay(ctx context.Context) {
	defer s.wg.Done()

	for i, fix := range s.fixes {
		if i > 0 && s.interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
		}

		select {
		case <-ctx.Done():
			return
		case s.events <- Event{Kind: EventLocations, Coordinates: []spatial.Coordinate{fix}}:
		}
	}
}

// StopUpdating implements Source.
func (s *StaticSource) StopUpdating() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close stops the replay and closes the event channel.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.wg.Wait()
	close(s.events)

	return nil
}
