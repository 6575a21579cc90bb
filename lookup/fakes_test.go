// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package lookup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
	"github.com/stretchr/testify/require"
)

var (
	montevideo   = spatial.Coordinate{Lat: -34.9011, Lng: -56.1645}
	puntaDelEste = spatial.Coordinate{Lat: -34.9620, Lng: -54.9500}
)

// fakeClock fires timers only when the test advances it.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Duration
	calls   int
	waiters []fakeTimer
}

type fakeTimer struct {
	at time.Duration
	ch chan time.Time
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeTimer{at: c.now + d, ch: ch})

	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += d

	pending := c.waiters[:0]

	for _, w := range c.waiters {
		if w.at <= c.now {
			w.ch <- time.Unix(0, int64(c.now))
		} else {
			pending = append(pending, w)
		}
	}

	c.waiters = pending
}

// waitTimers blocks until n timers were requested in total.
func (c *fakeClock) waitTimers(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.calls >= n
	}, time.Second, time.Millisecond, "expected %d timers", n)
}

type answer struct {
	found []places.Place
	err   error
}

// fakeResolver answers from a table; texts with a gate block until it is closed.
type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	regions []spatial.Region
	answers map[string]answer
	gates   map[string]chan struct{}
	// ignoreCancel makes gated calls wait for the gate even when cancelled,
	// like a provider that does not honor cancellation.
	ignoreCancel bool
	started      chan string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		answers: make(map[string]answer),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (f *fakeResolver) on(text string, found []places.Place, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answers[text] = answer{found: found, err: err}
}

func (f *fakeResolver) gate(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan struct{})
	f.gates[text] = ch

	return ch
}

func (f *fakeResolver) Search(ctx context.Context, text string, region spatial.Region) ([]places.Place, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.regions = append(f.regions, region)
	a, ok := f.answers[text]
	gate := f.gates[text]
	ignoreCancel := f.ignoreCancel
	f.mu.Unlock()

	f.started <- text

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if !ok {
		return nil, places.ErrNoResults
	}

	return a.found, a.err
}

func (f *fakeResolver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeResolver) waitStarted(t *testing.T, text string) {
	t.Helper()

	select {
	case got := <-f.started:
		require.Equal(t, text, got)
	case <-time.After(time.Second):
		t.Fatalf("search for %q was not issued", text)
	}
}

// fakeLocator is a Locator driven by the test.
type fakeLocator struct {
	mu         sync.Mutex
	coordinate *spatial.Coordinate
	observers  map[int]func(spatial.Coordinate)
	nextID     int
}

func newFakeLocator(c *spatial.Coordinate) *fakeLocator {
	return &fakeLocator{coordinate: c, observers: make(map[int]func(spatial.Coordinate))}
}

func (l *fakeLocator) Coordinate() (spatial.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.coordinate == nil {
		return spatial.Coordinate{}, false
	}

	return *l.coordinate, true
}

func (l *fakeLocator) RegionAround(radius float64) (spatial.Region, bool) {
	c, ok := l.Coordinate()
	if !ok {
		return spatial.Region{}, false
	}

	return spatial.NewRegion(c, radius), true
}

func (l *fakeLocator) Subscribe(fn func(spatial.Coordinate)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.observers[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.observers, id)
	}
}

func (l *fakeLocator) subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.observers)
}

func (l *fakeLocator) deliver(c spatial.Coordinate) {
	l.mu.Lock()
	l.coordinate = &c

	observers := make([]func(spatial.Coordinate), 0, len(l.observers))
	for _, fn := range l.observers {
		observers = append(observers, fn)
	}
	l.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
}

// fakeReverse names each coordinate after a table; gated lookups block.
type fakeReverse struct {
	mu    sync.Mutex
	calls []spatial.Coordinate
	err   error
	gate  chan struct{}
}

func (f *fakeReverse) PlaceFor(ctx context.Context, c spatial.Coordinate) (places.Place, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return places.Place{}, ctx.Err()
		}
	}

	if err != nil {
		return places.Place{}, err
	}

	return places.NewPlace("Place at "+c.String(), "", c), nil
}

func (f *fakeReverse) Calls() []spatial.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]spatial.Coordinate(nil), f.calls...)
}
