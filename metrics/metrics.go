// Package metrics holds the Prometheus instruments for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rest2redis"

// Metrics holds all Prometheus metrics for the gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommandsTotal     *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
	WebsocketSessions prometheus.Gauge
	WindowEvents      prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics with reg. When reg is also a Gatherer the
// Handler serves from it, otherwise from the default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	g, ok := reg.(prometheus.Gatherer)
	if !ok {
		g = prometheus.DefaultGatherer
	}

	return &Metrics{
		CommandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of commands by outcome",
			},
			[]string{"command", "result"}, // result=ok/backend_error
		),
		BackendDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_duration_seconds",
				Help:      "Backend call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		WebsocketSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_sessions",
				Help:      "Number of open websocket sessions",
			},
		),
		WindowEvents: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_events",
				Help:      "Number of events retained in the sliding window",
			},
		),
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method and status code",
			},
			[]string{"method", "status"},
		),
		gatherer: g,
	}
}

// Command records the outcome of one command.
func (m *Metrics) Command(command, result string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
}

// Backend records the duration of one backend call.
func (m *Metrics) Backend(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(command).Observe(d.Seconds())
}

// Sessions sets the open websocket session gauge.
func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.WebsocketSessions.Set(float64(n))
}

// Window sets the retained event gauge.
func (m *Metrics) Window(n int) {
	if m == nil {
		return
	}
	m.WindowEvents.Set(float64(n))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by method and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
