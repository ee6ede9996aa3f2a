package rest2redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/parkerroan/rest2redis/clock"
	"github.com/parkerroan/rest2redis/cluster"
	"github.com/parkerroan/rest2redis/hub"
	"github.com/parkerroan/rest2redis/metrics"
	"github.com/parkerroan/rest2redis/store"
	"github.com/parkerroan/rest2redis/throttle"
	"github.com/parkerroan/rest2redis/web"
	"github.com/parkerroan/rest2redis/window"
	"golang.org/x/exp/slog"
)

const (
	// DefaultWindow is the sliding-window width.
	DefaultWindow = 10 * time.Second
	// DefaultPrefix is prepended to every topic.
	DefaultPrefix = "rest2redis"
	// DefaultAPIKeyHeader carries the API key.
	DefaultAPIKeyHeader = "x-api-key"
	// MaxPayloadBytes bounds the request body forwarded to the store.
	MaxPayloadBytes = 1 << 20
	// ThroughputPath always serves the rate, whatever the configured rate path is.
	ThroughputPath = "/throughput"
	// HealthPath reports whether the store answers.
	HealthPath = "/healthz"
)

// Paths are the read-only routes of the gateway.
type Paths struct {
	Rate    string
	Stats   string
	WS      string
	Metrics string
}

// DefaultPaths returns the default route layout.
func DefaultPaths() Paths {
	return Paths{
		Rate:    "/",
		Stats:   "/stats",
		WS:      "/ws",
		Metrics: "/metrics",
	}
}

// Gateway relays HTTP commands to the store and serves the request rate.
type Gateway struct {
	store         store.Store
	log           window.Log
	width         time.Duration
	normalization time.Duration
	pruneEvery    time.Duration
	prefix        string
	allowedKeys   []string
	apiKeyHeader  string
	refresh       time.Duration
	maxSessions   int
	origins       []string
	paths         Paths
	throttle      throttle.Throttle
	mirror        *cluster.Mirror
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        *slog.Logger

	meter      *window.Meter
	dispatcher *Dispatcher
	pruner     *window.Pruner
	hub        *hub.Hub
	handler    http.Handler

	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a Gateway forwarding to st. Without WithLog an unbounded heap log of
// the configured window width is used.
func New(st store.Store, opts ...func(*Gateway)) *Gateway {
	g := &Gateway{
		store:         st,
		width:         DefaultWindow,
		normalization: window.DefaultNormalization,
		pruneEvery:    window.DefaultPruneEvery,
		prefix:        DefaultPrefix,
		apiKeyHeader:  DefaultAPIKeyHeader,
		refresh:       hub.DefaultInterval,
		origins:       []string{"*"},
		paths:         DefaultPaths(),
		clock:         clock.System{},
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.log == nil {
		g.log = window.NewHeapLog(g.width)
	}

	g.meter = window.NewMeter(g.log, g.normalization)
	g.dispatcher = NewDispatcher(g.store, g.log, g.prefix, g.clock, g.metrics)
	g.pruner = window.NewPruner(g.log,
		window.WithPruneEvery(g.pruneEvery),
		window.WithPruneClock(g.clock),
		window.WithPruneLogger(g.logger),
	)
	g.hub = hub.New(g.meter.Rate,
		hub.WithInterval(g.refresh),
		hub.WithMaxSessions(g.maxSessions),
		hub.WithAllowedOrigins(g.origins),
		hub.WithClock(g.clock),
		hub.WithLogger(g.logger),
		hub.WithMetrics(g.metrics),
	)

	if g.mirror != nil {
		mirror := g.mirror
		g.dispatcher.OnAccept(func(ev window.Event) {
			if err := mirror.Publish(ev); err != nil {
				g.logger.Warn("failed to mirror event", slog.Any("error", err))
			}
		})
	}

	g.handler = g.routes()
	return g
}

// WithWindow sets the sliding-window width. Ignored when WithLog is given.
func WithWindow(d time.Duration) func(*Gateway) {
	return func(g *Gateway) {
		if d > 0 {
			g.width = d
		}
	}
}

// WithLog sets the event log, for example a ring log of fixed capacity.
func WithLog(log window.Log) func(*Gateway) {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithNormalization sets the divisor used to turn the event count into a rate.
func WithNormalization(d time.Duration) func(*Gateway) {
	return func(g *Gateway) {
		g.normalization = d
	}
}

// WithPruneEvery sets how often expired events are evicted.
func WithPruneEvery(d time.Duration) func(*Gateway) {
	return func(g *Gateway) {
		g.pruneEvery = d
	}
}

// WithPrefix sets the topic namespace prefix.
func WithPrefix(prefix string) func(*Gateway) {
	return func(g *Gateway) {
		g.prefix = prefix
	}
}

// WithAllowedKeys sets the API key allow-list. An empty list leaves the gateway open.
func WithAllowedKeys(keys []string) func(*Gateway) {
	return func(g *Gateway) {
		g.allowedKeys = keys
	}
}

// WithAPIKeyHeader sets the header carrying the API key.
func WithAPIKeyHeader(header string) func(*Gateway) {
	return func(g *Gateway) {
		if header != "" {
			g.apiKeyHeader = header
		}
	}
}

// WithRefreshInterval sets the default websocket push interval.
func WithRefreshInterval(d time.Duration) func(*Gateway) {
	return func(g *Gateway) {
		g.refresh = d
	}
}

// WithMaxSessions caps concurrent websocket sessions; 0 means unlimited.
func WithMaxSessions(n int) func(*Gateway) {
	return func(g *Gateway) {
		g.maxSessions = n
	}
}

// WithCORSOrigins sets the allowed cross-origin callers. "*" allows any origin.
func WithCORSOrigins(origins []string) func(*Gateway) {
	return func(g *Gateway) {
		if len(origins) > 0 {
			g.origins = origins
		}
	}
}

// WithPaths overrides the read-only routes. Empty fields keep their default.
func WithPaths(p Paths) func(*Gateway) {
	return func(g *Gateway) {
		if p.Rate != "" {
			g.paths.Rate = p.Rate
		}
		if p.Stats != "" {
			g.paths.Stats = p.Stats
		}
		if p.WS != "" {
			g.paths.WS = p.WS
		}
		if p.Metrics != "" {
			g.paths.Metrics = p.Metrics
		}
	}
}

// WithThrottle enables a global admission limit on commands.
func WithThrottle(t throttle.Throttle) func(*Gateway) {
	return func(g *Gateway) {
		g.throttle = t
	}
}

// WithMirror shares accepted events with other gateways. The mirror must append
// into the same log passed with WithLog.
func WithMirror(m *cluster.Mirror) func(*Gateway) {
	return func(g *Gateway) {
		g.mirror = m
	}
}

// WithClock sets the time source used for events and rates.
func WithClock(c clock.Clock) func(*Gateway) {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithMetrics enables Prometheus instrumentation and the metrics route.
func WithMetrics(m *metrics.Metrics) func(*Gateway) {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) func(*Gateway) {
	return func(g *Gateway) {
		g.logger = l
	}
}

// Start runs the background tasks: the pruner and, if configured, the mirror.
func (g *Gateway) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.pruner.Start(ctx)
	if g.mirror != nil {
		g.mirror.Start(ctx)
	}
}

// Stop stops the background tasks and closes every websocket session.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.pruner.Stop()
		g.hub.Shutdown()
		if g.mirror != nil && g.cancel != nil {
			g.mirror.Wait()
		}
	})
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Rate returns the current request rate.
func (g *Gateway) Rate() float64 {
	return g.meter.Rate(g.clock.Now())
}

// Log returns the event log.
func (g *Gateway) Log() window.Log {
	return g.log
}

// Dispatcher returns the command dispatcher.
func (g *Gateway) Dispatcher() *Dispatcher {
	return g.dispatcher
}

func (g *Gateway) routes() http.Handler {
	r := mux.NewRouter()
	// topics keep their raw path; ParseRoute strips trailing slashes
	r.SkipClean(true)
	r.Use(LoggingMiddleware(g.logger))
	r.Use(g.metrics.Middleware)

	r.HandleFunc(HealthPath, g.handleHealth).Methods(http.MethodGet)
	if g.metrics != nil {
		r.Handle(g.paths.Metrics, g.metrics.Handler()).Methods(http.MethodGet)
	}
	r.Handle(g.paths.WS, g.hub).Methods(http.MethodGet)
	r.HandleFunc(g.paths.Stats, g.handleStats).Methods(http.MethodGet)
	r.HandleFunc(ThroughputPath, g.handleRate).Methods(http.MethodGet)
	r.HandleFunc(g.paths.Rate, g.handleRate).Methods(http.MethodGet)

	commands := r.Methods(http.MethodPost).Subrouter()
	commands.Use(APIKeyMiddleware(g.apiKeyHeader, g.allowedKeys))
	commands.Use(ThrottleMiddleware(g.throttle, g.logger))
	commands.HandleFunc("/{command}/{topic:.*}", g.handleCommand)

	return handlers.CORS(
		handlers.AllowedOrigins(g.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", g.apiKeyHeader}),
	)(r)
}

type rateResponse struct {
	Rate string `json:"rate"`
}

func (g *Gateway) handleRate(w http.ResponseWriter, _ *http.Request) {
	now := g.clock.Now()
	g.metrics.Window(g.log.Len())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rateResponse{Rate: window.FormatRate(g.meter.Rate(now))}); err != nil {
		g.logger.Error("failed to write rate", slog.Any("error", err))
	}
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	page := web.StatsPage{WSPath: g.paths.WS, Interval: g.refresh}
	if err := web.RenderStats(&buf, page); err != nil {
		g.logger.Error("failed to render stats page", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("backend health check failed", slog.Any("error", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	route, err := ParseRoute(vars["command"], vars["topic"])
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := g.dispatcher.Dispatch(r.Context(), route, payload); err != nil {
		g.logger.Error("failed to dispatch command",
			slog.String("command", route.Command.String()),
			slog.String("topic", route.Topic),
			slog.Any("error", err))
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
