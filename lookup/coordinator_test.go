// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package lookup

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cafe     = places.NewPlace("Café Brasilero", "Ituzaingó 1447", spatial.Coordinate{Lat: -34.9067, Lng: -56.1995})
	mercado  = places.NewPlace("Mercado del Puerto", "Pérez Castellano 1569", spatial.Coordinate{Lat: -34.9060, Lng: -56.2130})
	barAmeri = places.NewPlace("Bar Americano", "Sarandí 600", spatial.Coordinate{Lat: -34.9063, Lng: -56.2020})
)

func newTestCoordinator(resolver places.Resolver, region spatial.Region) (*Coordinator, *fakeClock) {
	clock := &fakeClock{}

	return NewCoordinator(resolver, region, Options{Clock: clock}), clock
}

func TestCoordinatorDebounces(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("caf", []places.Place{cafe}, nil)

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("c")
	c.OnTextChanged("ca")
	c.OnTextChanged("caf")
	clock.waitTimers(t, 3)

	clock.Advance(DefaultQuietPeriod)
	c.Wait()

	assert.Equal(t, []string{"caf"}, resolver.Calls(), "only the last text reaches the resolver")
	assert.Equal(t, []places.Place{cafe}, c.Results())
}

func TestCoordinatorQuietPeriodRestartsOnEveryKeystroke(t *testing.T) {
	paris := places.NewPlace("Paris", "Île-de-France", spatial.Coordinate{Lat: 48.8566, Lng: 2.3522})

	resolver := newFakeResolver()
	resolver.on("Paris", []places.Place{paris}, nil)

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("Par")
	clock.waitTimers(t, 1)

	clock.Advance(100 * time.Millisecond)
	c.OnTextChanged("Pari")
	clock.waitTimers(t, 2)

	clock.Advance(50 * time.Millisecond)
	c.OnTextChanged("Paris")
	clock.waitTimers(t, 3)

	// 449ms after the first keystroke, 299ms after the last one.
	clock.Advance(299 * time.Millisecond)
	assert.Empty(t, resolver.Calls())
	assert.True(t, c.Snapshot().Searching)

	clock.Advance(time.Millisecond)
	resolver.waitStarted(t, "Paris")
	c.Wait()

	assert.Equal(t, []string{"Paris"}, resolver.Calls())
	assert.Equal(t, []places.Place{paris}, c.Results())
}

func TestCoordinatorQuietPeriod(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("cafe", []places.Place{cafe}, nil)

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)

	clock.Advance(DefaultQuietPeriod - time.Millisecond)
	assert.True(t, c.Snapshot().Searching)
	assert.Empty(t, resolver.Calls())

	clock.Advance(time.Millisecond)
	resolver.waitStarted(t, "cafe")
	c.Wait()

	snap := c.Snapshot()
	assert.False(t, snap.Searching)
	assert.Equal(t, []places.Place{cafe}, snap.Results)
}

func TestCoordinatorCustomQuietPeriod(t *testing.T) {
	resolver := newFakeResolver()
	clock := &fakeClock{}
	c := NewCoordinator(resolver, spatial.Region{}, Options{Clock: clock, QuietPeriod: time.Second})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	assert.Empty(t, resolver.Calls())

	clock.Advance(time.Second)
	c.Wait()
	assert.Equal(t, []string{"cafe"}, resolver.Calls())
}

func TestCoordinatorEmptyTextClearsSynchronously(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("cafe", []places.Place{cafe}, nil)

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	c.Wait()
	require.Len(t, c.Results(), 1)

	c.OnTextChanged("")

	assert.Empty(t, c.Results())
	assert.Equal(t, Snapshot{Results: []places.Place{}}, normalize(c.Snapshot()))

	clock.Advance(time.Hour)
	c.Wait()
	assert.Equal(t, []string{"cafe"}, resolver.Calls(), "empty text never reaches the resolver")
}

// normalize makes nil and empty result slices compare equal.
func normalize(s Snapshot) Snapshot {
	if s.Results == nil {
		s.Results = []places.Place{}
	}

	return s
}

// A text change landing while a search is already in the resolver does not
// stop that call from reaching the provider; only its answer is dropped.
func TestCoordinatorStaleResponseIsDropped(t *testing.T) {
	resolver := newFakeResolver()
	resolver.ignoreCancel = true
	resolver.on("cafe", []places.Place{cafe}, nil)
	resolver.on("bar", []places.Place{barAmeri}, nil)

	slow := resolver.gate("cafe")

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	resolver.waitStarted(t, "cafe")

	c.OnTextChanged("bar")
	clock.waitTimers(t, 2)
	clock.Advance(DefaultQuietPeriod)
	resolver.waitStarted(t, "bar")

	require.Eventually(t, func() bool { return len(c.Results()) == 1 }, time.Second, time.Millisecond)

	close(slow)
	c.Wait()

	assert.Equal(t, []places.Place{barAmeri}, c.Results())
	assert.Equal(t, "bar", c.Snapshot().Text)
}

func TestCoordinatorCancellationIsSwallowed(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("cafe", []places.Place{cafe}, nil)
	resolver.gate("cafe")

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	resolver.waitStarted(t, "cafe")

	c.OnTextChanged("")
	c.Wait()

	snap := c.Snapshot()
	assert.Empty(t, snap.Error)
	assert.False(t, snap.NoResults)
	assert.Empty(t, snap.Results)
	assert.NoError(t, c.Err())
}

func TestCoordinatorFailures(t *testing.T) {
	providerErr := &places.GeocodingError{Type: places.ErrorTypeRateLimit, Message: "rate limit reached"}

	tests := []struct {
		name          string
		err           error
		wantNoResults bool
		wantError     string
	}{
		{name: "no results", err: places.ErrNoResults, wantNoResults: true},
		{name: "wrapped no results", err: errors.Join(errors.New("nominatim"), places.ErrNoResults), wantNoResults: true},
		{name: "provider error", err: providerErr, wantError: "rate limit reached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newFakeResolver()
			resolver.on("cafe", []places.Place{cafe}, nil)
			resolver.on("cafes", nil, tt.err)

			c, clock := newTestCoordinator(resolver, spatial.Region{})

			c.OnTextChanged("cafe")
			clock.waitTimers(t, 1)
			clock.Advance(DefaultQuietPeriod)
			c.Wait()

			c.OnTextChanged("cafes")
			clock.waitTimers(t, 2)
			clock.Advance(DefaultQuietPeriod)
			c.Wait()

			snap := c.Snapshot()
			assert.Equal(t, tt.wantNoResults, snap.NoResults)
			assert.Equal(t, tt.wantError, snap.Error)
			assert.Equal(t, []places.Place{cafe}, snap.Results, "results are kept on failure")

			// A later success clears the failure.
			resolver.on("cafes", []places.Place{cafe, mercado}, nil)
			c.OnTextChanged("cafes")
			clock.waitTimers(t, 3)
			clock.Advance(DefaultQuietPeriod)
			c.Wait()

			snap = c.Snapshot()
			assert.False(t, snap.NoResults)
			assert.Empty(t, snap.Error)
			assert.Len(t, snap.Results, 2)
		})
	}
}

func TestCoordinatorPassesRegion(t *testing.T) {
	resolver := newFakeResolver()
	region := spatial.NewRegion(montevideo, spatial.DefaultRadius)

	c, clock := newTestCoordinator(resolver, region)
	assert.Equal(t, region, c.Region())

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	c.Wait()

	resolver.mu.Lock()
	defer resolver.mu.Unlock()

	assert.Equal(t, []spatial.Region{region}, resolver.regions)
}

func TestCoordinatorDismiss(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("cafe", []places.Place{cafe}, nil)
	resolver.gate("cafe")

	c, clock := newTestCoordinator(resolver, spatial.Region{})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	resolver.waitStarted(t, "cafe")

	c.Dismiss()
	c.Wait()

	assert.True(t, c.Closed())
	assert.Empty(t, c.Results())

	c.OnTextChanged("mercado")
	clock.Advance(time.Hour)
	c.Wait()
	assert.Equal(t, []string{"cafe"}, resolver.Calls(), "a dismissed screen issues no searches")
}

func TestCoordinatorPlace(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("c", []places.Place{cafe, mercado}, nil)

	c, clock := newTestCoordinator(resolver, spatial.Region{})
	c.OnTextChanged("c")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	c.Wait()

	got, ok := c.Place(mercado.ID)
	require.True(t, ok)
	assert.Equal(t, mercado, got)

	_, ok = c.Place("unknown")
	assert.False(t, ok)
}

func TestCoordinatorOnUpdate(t *testing.T) {
	resolver := newFakeResolver()
	resolver.on("cafe", []places.Place{cafe}, nil)

	var (
		mu      sync.Mutex
		updates []Snapshot
	)

	clock := &fakeClock{}
	c := NewCoordinator(resolver, spatial.Region{}, Options{
		Clock: clock,
		OnUpdate: func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()

			updates = append(updates, s)
		},
	})

	c.OnTextChanged("cafe")
	clock.waitTimers(t, 1)
	clock.Advance(DefaultQuietPeriod)
	c.Wait()
	c.OnTextChanged("")

	mu.Lock()
	defer mu.Unlock()

	want := []Snapshot{
		{Text: "cafe", Results: []places.Place{cafe}},
		{Text: "", Results: []places.Place{}},
	}

	got := make([]Snapshot, len(updates))
	for i, u := range updates {
		got[i] = normalize(u)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}
