// Package hub is the real-time broadcast channel: websocket subscribers that each
// receive rate snapshots on their own cadence.
package hub

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parkerroan/rest2redis/clock"
	"github.com/parkerroan/rest2redis/metrics"
	"golang.org/x/exp/slog"
)

const (
	// MinInterval is the shortest refresh interval a subscriber may ask for.
	MinInterval = time.Second
	// DefaultInterval is used when neither the hub nor the subscriber sets one.
	DefaultInterval = time.Second

	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// RateFunc returns the request rate at now.
type RateFunc func(now time.Time) float64

// Snapshot is the payload pushed to every subscriber.
type Snapshot struct {
	Rate           float64 `json:"rate"`
	WebsocketCount int     `json:"websocketCount"`
}

// Hub tracks the live subscribers and runs one push loop per subscriber.
type Hub struct {
	rate        RateFunc
	clock       clock.Clock
	interval    time.Duration
	maxSessions int
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	sessions map[*session]struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Hub pushing the rate reported by rate.
func New(rate RateFunc, opts ...func(*Hub)) *Hub {
	h := &Hub{
		rate:     rate,
		clock:    clock.System{},
		interval: DefaultInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   slog.Default(),
		sessions: make(map[*session]struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// WithInterval sets the default refresh interval, clamped to MinInterval.
func WithInterval(d time.Duration) func(*Hub) {
	return func(h *Hub) {
		h.interval = ClampInterval(d)
	}
}

// WithMaxSessions caps concurrent subscribers. Zero means unlimited.
func WithMaxSessions(n int) func(*Hub) {
	return func(h *Hub) {
		h.maxSessions = n
	}
}

// WithAllowedOrigins restricts the Origin header of upgrade requests.
// An empty list or a "*" entry allows any origin.
func WithAllowedOrigins(origins []string) func(*Hub) {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			if o == "*" {
				return
			}
			allowed[o] = struct{}{}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithClock sets the clock handed to the RateFunc.
func WithClock(c clock.Clock) func(*Hub) {
	return func(h *Hub) {
		h.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithMetrics records the session count.
func WithMetrics(m *metrics.Metrics) func(*Hub) {
	return func(h *Hub) {
		h.metrics = m
	}
}

// ClampInterval applies the default and minimum to a requested interval.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Snapshot computes the payload at now using the live session count.
func (h *Hub) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Rate:           h.rate(now),
		WebsocketCount: h.Count(),
	}
}

// ServeHTTP upgrades the request to a websocket and starts the session.
// The refresh interval may be given in seconds with the "interval" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.full() {
		h.logger.Warn("max websocket sessions reached, rejecting connection", slog.Int("max", h.maxSessions))
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	interval := h.intervalFor(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		h.logger.Error("failed to upgrade websocket connection", slog.Any("error", err))
		return
	}

	s := newSession(h, conn, interval)
	if !h.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

func (h *Hub) intervalFor(r *http.Request) time.Duration {
	v := r.URL.Query().Get("interval")
	if v == "" {
		return h.interval
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return h.interval
	}
	return ClampInterval(time.Duration(secs * float64(time.Second)))
}

func (h *Hub) full() bool {
	if h.maxSessions <= 0 {
		return false
	}
	return h.Count() >= h.maxSessions
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}

	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(2) // writePump and readPump
	s.setState(Open)
	h.metrics.Sessions(len(h.sessions))

	h.logger.Info("websocket session opened",
		slog.String("remote_addr", s.conn.RemoteAddr().String()),
		slog.Duration("interval", s.interval),
		slog.Int("sessions", len(h.sessions)))
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	h.metrics.Sessions(len(h.sessions))

	h.logger.Info("websocket session closed",
		slog.String("remote_addr", s.conn.RemoteAddr().String()),
		slog.Int("sessions", len(h.sessions)))
}

// Shutdown closes every session, stops their push loops and waits for them to exit.
// New connections are refused afterwards.
func (h *Hub) Shutdown() {
	// taken so no session can register between closing done and waiting
	h.mu.Lock()
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Unlock()

	h.wg.Wait()
}
