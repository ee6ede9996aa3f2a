// Package cluster mirrors accepted request events between gateway instances through
// a Redis stream, so every instance reports the request rate of the whole fleet.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/parkerroan/rest2redis/window"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned by Publish when the outbound queue cannot take more events.
var ErrQueueFull = errors.New("mirror queue full")

// Message is the wire form of an event on the stream.
type Message struct {
	InstanceID string    `json:"instance_id"` // The gateway that accepted the request
	Kind       string    `json:"kind"`        // "publish" or "set"
	Topic      string    `json:"topic"`
	Timestamp  time.Time `json:"timestamp"`
}

func toMessage(instanceID string, ev window.Event) Message {
	return Message{
		InstanceID: instanceID,
		Kind:       ev.Kind.String(),
		Topic:      ev.Topic,
		Timestamp:  ev.Timestamp,
	}
}

func (m Message) event() (window.Event, error) {
	kind, err := window.ParseKind(m.Kind)
	if err != nil {
		return window.Event{}, err
	}
	return window.Event{Timestamp: m.Timestamp, Topic: m.Topic, Kind: kind}, nil
}

// Mirror publishes local events to a Redis stream and feeds peer events into a Log.
type Mirror struct {
	stream     string
	client     *redis.Client
	instanceID string
	log        window.Log
	logger     *slog.Logger

	maxStreamLen   int64
	publishTimeout time.Duration
	batchSize      int

	backoff        *backoff.Backoff
	publishChannel chan window.Event
	sem            *semaphore.Weighted

	wg sync.WaitGroup
}

// NewMirror creates a Mirror appending peer events to log.
func NewMirror(rdb *redis.Client, log window.Log, opts ...func(*Mirror)) *Mirror {
	m := &Mirror{
		client:         rdb,
		log:            log,
		stream:         "rest2redis:events",
		instanceID:     uuid.NewString(),
		logger:         slog.Default(),
		publishTimeout: 500 * time.Millisecond,
		batchSize:      100,
		backoff: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2,
			Jitter: true,
		},
		publishChannel: make(chan window.Event, 1024),
		sem:            semaphore.NewWeighted(int64(16)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithStream sets the Redis stream name.
func WithStream(stream string) func(*Mirror) {
	return func(m *Mirror) {
		m.stream = stream
	}
}

// WithCappedStream caps the stream length (approximately). Zero leaves it uncapped.
func WithCappedStream(maxLen int64) func(*Mirror) {
	return func(m *Mirror) {
		m.maxStreamLen = maxLen
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) func(*Mirror) {
	return func(m *Mirror) {
		m.instanceID = id
	}
}

// WithMaxThreads bounds concurrent XADD calls.
func WithMaxThreads(n int) func(*Mirror) {
	return func(m *Mirror) {
		m.sem = semaphore.NewWeighted(int64(n))
	}
}

// WithQueueSize sets the outbound queue capacity.
func WithQueueSize(n int) func(*Mirror) {
	return func(m *Mirror) {
		m.publishChannel = make(chan window.Event, n)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) func(*Mirror) {
	return func(m *Mirror) {
		m.logger = l
	}
}

// InstanceID identifies this gateway on the stream.
func (m *Mirror) InstanceID() string {
	return m.instanceID
}

// Start runs the publisher and the consumer until ctx is done.
func (m *Mirror) Start(ctx context.Context) {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.runPublisher(ctx); err != nil {
			m.logger.Error("error publishing events to stream", slog.Any("error", err))
		}
	}()

	go func() {
		defer m.wg.Done()
		if err := m.consume(ctx); err != nil {
			m.logger.Error("error consuming events from stream", slog.Any("error", err))
		}
	}()
}

// Wait blocks until the goroutines started by Start have exited.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

// Publish queues a locally accepted event. It never blocks: mirroring is best effort
// and must not slow down request handling.
func (m *Mirror) Publish(ev window.Event) error {
	select {
	case m.publishChannel <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// runPublisher drains the queue in batches and writes each batch as one stream entry.
func (m *Mirror) runPublisher(ctx context.Context) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		batch := make([]Message, 0, m.batchSize)

		// block until we receive the first event
		select {
		case ev := <-m.publishChannel:
			batch = append(batch, toMessage(m.instanceID, ev))
		case <-ctx.Done():
			return nil
		}

	gather:
		for len(batch) < m.batchSize {
			select {
			case ev := <-m.publishChannel:
				batch = append(batch, toMessage(m.instanceID, ev))
			default:
				break gather
			}
		}

		if err := m.sem.Acquire(ctx, 1); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("acquire publish slot: %w", err)
		}

		inflight.Add(1)
		go func(batch []Message) {
			defer inflight.Done()
			defer m.sem.Release(1)

			// detached from ctx so the last batch still goes out during shutdown
			publishCtx, cancel := context.WithTimeout(context.Background(), m.publishTimeout)
			defer cancel()
			if err := m.publish(publishCtx, batch); err != nil {
				m.logger.Error("error publishing batch to stream", slog.Int("events", len(batch)), slog.Any("error", err))
			}
		}(batch)
	}
}

func (m *Mirror) publish(ctx context.Context, batch []Message) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]interface{}{"events": payload},
		MaxLen: m.maxStreamLen,
		Approx: m.maxStreamLen > 0,
	}).Err()
}

// consume follows the stream from its current end and appends peer events to the log.
func (m *Mirror) consume(ctx context.Context) error {
	lastID := "$"

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := m.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{m.stream, lastID},
			Count:   100,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// block timed out without new entries
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			wait := m.backoff.Duration()
			m.logger.Error("error reading events from stream", slog.Any("error", err), slog.Duration("retry_in", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		m.backoff.Reset()

		for _, s := range streams {
			for _, xm := range s.Messages {
				lastID = xm.ID
				m.apply(xm)
			}
		}
	}
}

func (m *Mirror) apply(xm redis.XMessage) {
	raw, ok := xm.Values["events"].(string)
	if !ok {
		m.logger.Warn("stream entry without events field", slog.String("id", xm.ID))
		return
	}

	var batch []Message
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		m.logger.Warn("undecodable stream entry", slog.String("id", xm.ID), slog.Any("error", err))
		return
	}

	applied := 0
	for _, msg := range batch {
		if msg.InstanceID == m.instanceID {
			continue
		}
		ev, err := msg.event()
		if err != nil {
			continue
		}
		m.log.Append(ev)
		applied++
	}

	if applied > 0 {
		m.logger.Debug("applied peer events", slog.String("id", xm.ID), slog.Int("events", applied))
	}
}
