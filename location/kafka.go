// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jcodagnone/placelookup/spatial"
	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"
)

// KafkaReader is the subset of *kafka.Reader used by KafkaSource.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader creates a consumer group reader for a topic of location messages.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
		// Fixes are tiny and latency matters more than throughput.
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// KafkaSource reads location messages published by a device gateway.
//
// Each message value is a JSON object with either a fix
// ({"lat": .., "lng": ..}, also "latitude"/"lon"/"longitude"), a batch of
// fixes ({"locations": [..]}), an authorization change
// ({"authorization": "denied"}) or a failure ({"error": "..."}).
type KafkaSource struct {
	reader        KafkaReader
	authorization AuthorizationState
	events        chan Event
	retryDelay    time.Duration

	mu        sync.Mutex
	updating  bool
	requested bool
	started   bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewKafkaSource creates a source over reader. The authorization request is
// answered with authorization; later changes may come from the topic.
func NewKafkaSource(reader KafkaReader, authorization AuthorizationState) *KafkaSource {
	return &KafkaSource{
		reader:        reader,
		authorization: authorization,
		events:        make(chan Event, eventBuffer),
		retryDelay:    time.Second,
	}
}

// Events implements Source.
func (k *KafkaSource) Events() <-chan Event {
	return k.events
}

// RequestWhenInUseAuthorization implements Source.
func (k *KafkaSource) RequestWhenInUseAuthorization() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.requested || k.closed {
		return
	}

	k.requested = true

	select {
	case k.events <- Event{Kind: EventAuthorization, State: k.authorization}:
	default:
		log.Print("location event buffer full, dropping authorization answer")
	}
}

// StartUpdating implements Source. The topic is consumed from the first call;
// fixes read while stopped are discarded.
func (k *KafkaSource) StartUpdating() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return
	}

	k.updating = true

	if k.started {
		return
	}

	k.started = true

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel

	k.wg.Add(1)

	go k.consume(ctx)
}

// StopUpdating implements Source.
func (k *KafkaSource) StopUpdating() {
	k.mu.Lock()
	k.updating = false
	k.mu.Unlock()
}

func (k *KafkaSource) isUpdating() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.updating
}

func (k *KafkaSource) consume(ctx context.Context) {
	defer k.wg.Done()

	log.Println("Starting location consumer loop...")

	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}

			log.Printf("Error reading location message: %v", err)

			if !k.emit(ctx, Event{Kind: EventError, Err: fmt.Errorf("reading location: %w", err)}) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(k.retryDelay):
			}

			continue
		}

		ev, err := DecodeMessage(msg.Value)
		if err != nil {
			log.Printf("Skipping location message at partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)

			continue
		}

		if ev.Kind == EventLocations && !k.isUpdating() {
			continue
		}

		if !k.emit(ctx, ev) {
			return
		}
	}
}

func (k *KafkaSource) emit(ctx context.Context, ev Event) bool {
	select {
	case k.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops consuming, closes the reader and the event channel.
func (k *KafkaSource) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()

		return nil
	}

	k.closed = true
	cancel := k.cancel
	k.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	k.wg.Wait()
	close(k.events)

	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("closing kafka reader: %w", err)
	}

	return nil
}

func coordinateOf(r gjson.Result) (spatial.Coordinate, bool) {
	lat := firstOf(r, "lat", "latitude")
	lng := firstOf(r, "lng", "lon", "longitude")

	if !lat.Exists() || !lng.Exists() {
		return spatial.Coordinate{}, false
	}

	return spatial.Coordinate{Lat: lat.Float(), Lng: lng.Float()}, true
}

func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := r.Get(key); v.Exists() {
			return v
		}
	}

	return gjson.Result{}
}

// DecodeMessage turns a location message into an Event.
func DecodeMessage(value []byte) (Event, error) {
	if !gjson.ValidBytes(value) {
		return Event{}, errors.New("invalid JSON")
	}

	r := gjson.ParseBytes(value)

	if v := r.Get("authorization"); v.Exists() {
		return Event{Kind: EventAuthorization, State: ParseAuthorizationState(v.String())}, nil
	}

	if v := r.Get("error"); v.Exists() {
		return Event{Kind: EventError, Err: errors.New(v.String())}, nil
	}

	var coordinates []spatial.Coordinate

	if batch := r.Get("locations"); batch.IsArray() {
		for _, item := range batch.Array() {
			c, ok := coordinateOf(item)
			if !ok {
				return Event{}, fmt.Errorf("location without coordinates: %s", item.Raw)
			}

			coordinates = append(coordinates, c)
		}
	} else if c, ok := coordinateOf(r); ok {
		coordinates = append(coordinates, c)
	}

	if len(coordinates) == 0 {
		return Event{}, errors.New("message carries no location")
	}

	for _, c := range coordinates {
		if !c.Valid() {
			return Event{}, fmt.Errorf("coordinate out of range: %s", c)
		}
	}

	return Event{Kind: EventLocations, Coordinates: coordinates}, nil
}
