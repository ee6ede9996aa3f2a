package rest2redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parkerroan/rest2redis/clock"
	"github.com/parkerroan/rest2redis/metrics"
	"github.com/parkerroan/rest2redis/store"
	"github.com/parkerroan/rest2redis/window"
)

// Route is a validated command and topic taken from a request path.
type Route struct {
	Command window.Kind
	Topic   string
}

// ParseRoute validates the command token and topic path of a request.
// Trailing slashes are stripped from the topic.
func ParseRoute(command, topicPath string) (Route, error) {
	kind, err := window.ParseKind(command)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	topic := strings.TrimRight(topicPath, "/")
	if topic == "" {
		return Route{}, ErrEmptyTopic
	}

	return Route{Command: kind, Topic: topic}, nil
}

// Topic joins prefix and topicPath with exactly one separator.
func Topic(prefix, topicPath string) string {
	prefix = strings.TrimRight(prefix, "/")
	topicPath = strings.TrimLeft(topicPath, "/")
	if prefix == "" {
		return topicPath
	}
	return prefix + "/" + topicPath
}

// Dispatcher forwards routes to the backing store and records accepted events.
type Dispatcher struct {
	store   store.Store
	log     window.Log
	prefix  string
	clock   clock.Clock
	metrics *metrics.Metrics

	mu        sync.RWMutex
	listeners []func(window.Event)
}

// NewDispatcher creates a Dispatcher writing to st and recording into log.
func NewDispatcher(st store.Store, log window.Log, prefix string, clk clock.Clock, m *metrics.Metrics) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	return &Dispatcher{
		store:   st,
		log:     log,
		prefix:  prefix,
		clock:   clk,
		metrics: m,
	}
}

// OnAccept registers fn to be called with every accepted event, after it is logged.
func (d *Dispatcher) OnAccept(fn func(window.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Dispatch makes exactly one backend call for route. Only a successful call is
// appended to the log; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, route Route, payload []byte) (window.Event, error) {
	full := Topic(d.prefix, route.Topic)
	command := route.Command.String()

	start := time.Now()
	var err error
	switch route.Command {
	case window.Publish:
		err = d.store.Publish(ctx, full, payload)
	case window.Set:
		err = d.store.Set(ctx, full, payload)
	default:
		return window.Event{}, ErrUnknownCommand
	}
	d.metrics.Backend(command, time.Since(start))

	if err != nil {
		d.metrics.Command(command, "backend_error")
		return window.Event{}, fmt.Errorf("%w: %s %s: %w", ErrBackendUnavailable, command, full, err)
	}

	ev := window.Event{
		Timestamp: d.clock.Now(),
		Topic:     route.Topic,
		Kind:      route.Command,
	}
	d.log.Append(ev)
	d.metrics.Command(command, "ok")
	d.metrics.Window(d.log.Len())

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, fn := range d.listeners {
		fn(ev)
	}

	return ev, nil
}
