// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthorizationState(t *testing.T) {
	tests := []struct {
		in   string
		want AuthorizationState
	}{
		{"authorized_when_in_use", AuthorizedWhenInUse},
		{"when-in-use", AuthorizedWhenInUse},
		{"granted", AuthorizedWhenInUse},
		{"Always", AuthorizedAlways},
		{"authorized_always", AuthorizedAlways},
		{"denied", Denied},
		{"RESTRICTED", Restricted},
		{"not_determined", NotDetermined},
		{"provisional", NotDetermined},
		{"", NotDetermined},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAuthorizationState(tt.in))
		})
	}

	assert.Equal(t, "unknown(42)", AuthorizationState(42).String())

	text, err := Denied.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "denied", string(text))
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed")

		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")

		return Event{}
	}
}

func TestStaticSourceReplay(t *testing.T) {
	src := NewStaticSource(AuthorizedWhenInUse, time.Millisecond, montevideo, puntaDelEste)

	src.StartUpdating()
	select {
	case ev := <-src.Events():
		t.Fatalf("nothing should be emitted before asking permission, got %+v", ev)
	default:
	}

	src.RequestWhenInUseAuthorization()
	src.RequestWhenInUseAuthorization()
	src.StartUpdating()

	ev := receive(t, src.Events())
	assert.Equal(t, EventAuthorization, ev.Kind)
	assert.Equal(t, AuthorizedWhenInUse, ev.State)

	ev = receive(t, src.Events())
	assert.Equal(t, []spatial.Coordinate{montevideo}, ev.Coordinates)

	ev = receive(t, src.Events())
	assert.Equal(t, []spatial.Coordinate{puntaDelEste}, ev.Coordinates)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, ok := <-src.Events()
	assert.False(t, ok)
}

func TestStaticSourceDenied(t *testing.T) {
	src := NewStaticSource(Denied, 0, montevideo)
	defer src.Close()

	src.RequestWhenInUseAuthorization()
	src.StartUpdating()

	ev := receive(t, src.Events())
	assert.Equal(t, Denied, ev.State)

	select {
	case ev := <-src.Events():
		t.Fatalf("no fix expected without permission, got %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Event
		wantErr bool
	}{
		{
			name:  "lat lng",
			value: `{"lat": -34.9011, "lng": -56.1645}`,
			want:  Event{Kind: EventLocations, Coordinates: []spatial.Coordinate{montevideo}},
		},
		{
			name:  "latitude longitude as strings",
			value: `{"latitude": "-34.9011", "longitude": "-56.1645", "accuracy": 5}`,
			want:  Event{Kind: EventLocations, Coordinates: []spatial.Coordinate{montevideo}},
		},
		{
			name:  "batch",
			value: `{"locations": [{"lat": -34.9620, "lon": -54.95}, {"lat": -34.9011, "lon": -56.1645}]}`,
			want:  Event{Kind: EventLocations, Coordinates: []spatial.Coordinate{puntaDelEste, montevideo}},
		},
		{
			name:  "authorization",
			value: `{"authorization": "restricted"}`,
			want:  Event{Kind: EventAuthorization, State: Restricted},
		},
		{name: "invalid json", value: `{"lat":`, wantErr: true},
		{name: "no location", value: `{"speed": 3}`, wantErr: true},
		{name: "out of range", value: `{"lat": 95, "lng": 0}`, wantErr: true},
		{name: "batch item without coordinates", value: `{"locations": [{"lat": 1}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.value))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ev, err := DecodeMessage([]byte(`{"error": "gps lost"}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Kind)
	assert.EqualError(t, ev.Err, "gps lost")
}

// MockKafkaReader serves queued messages and then blocks until closed.
type MockKafkaReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	errs     []error
	closed   chan struct{}
	once     sync.Once
	// gate, when set, holds every read until closed.
	gate chan struct{}
}

func newMockKafkaReader(values ...string) *MockKafkaReader {
	r := &MockKafkaReader{closed: make(chan struct{})}
	for i, v := range values {
		r.messages = append(r.messages, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}

	return r
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		}
	}

	m.mu.Lock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()

		return kafka.Message{}, err
	}

	if len(m.messages) > 0 {
		msg := m.messages[0]
		m.messages = m.messages[1:]
		m.mu.Unlock()

		return msg, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-m.closed:
		return kafka.Message{}, io.EOF
	}
}

func (m *MockKafkaReader) Close() error {
	m.once.Do(func() { close(m.closed) })

	return nil
}

func TestKafkaSource(t *testing.T) {
	reader := newMockKafkaReader(
		`{"lat": -34.9011, "lng": -56.1645}`,
		`not json`,
		`{"authorization": "denied"}`,
	)
	reader.errs = []error{errors.New("broker unavailable")}

	src := NewKafkaSource(reader, AuthorizedWhenInUse)
	src.retryDelay = time.Millisecond

	src.RequestWhenInUseAuthorization()
	src.StartUpdating()
	src.StartUpdating()

	ev := receive(t, src.Events())
	assert.Equal(t, EventAuthorization, ev.Kind)
	assert.Equal(t, AuthorizedWhenInUse, ev.State)

	ev = receive(t, src.Events())
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorContains(t, ev.Err, "broker unavailable")

	ev = receive(t, src.Events())
	assert.Equal(t, []spatial.Coordinate{montevideo}, ev.Coordinates)

	ev = receive(t, src.Events())
	assert.Equal(t, EventAuthorization, ev.Kind, "the malformed message is skipped")
	assert.Equal(t, Denied, ev.State)

	require.NoError(t, src.Close())

	_, ok := <-src.Events()
	assert.False(t, ok)
}

func TestKafkaSourceDiscardsFixesWhileStopped(t *testing.T) {
	reader := newMockKafkaReader(
		`{"lat": -34.9620, "lng": -54.95}`,
		`{"error": "gps lost"}`,
	)

	reader.gate = make(chan struct{})

	src := NewKafkaSource(reader, AuthorizedWhenInUse)
	src.StartUpdating()
	src.StopUpdating()
	close(reader.gate)

	ev := receive(t, src.Events())
	assert.Equal(t, EventError, ev.Kind, "fixes are dropped while stopped")

	require.NoError(t, src.Close())
}

func TestProviderWithKafkaSource(t *testing.T) {
	reader := newMockKafkaReader(`{"lat": -34.9011, "lng": -56.1645}`)
	src := NewKafkaSource(reader, AuthorizedWhenInUse)
	p := NewProvider(src)

	got := make(chan spatial.Coordinate, 1)
	p.Subscribe(func(c spatial.Coordinate) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Run(ctx) }()

	select {
	case c := <-got:
		assert.Equal(t, montevideo, c)
	case <-time.After(time.Second):
		t.Fatal("no fix delivered")
	}

	assert.Equal(t, AuthorizedWhenInUse, p.AuthorizationState())
	require.NoError(t, src.Close())
}
