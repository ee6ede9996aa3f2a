package rest2redis

import (
	"bufio"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/parkerroan/rest2redis/throttle"
	"golang.org/x/exp/slog"
)

// APIKeyMiddleware rejects requests whose header value is not on allowList with 401.
// An empty allowList lets everything through.
func APIKeyMiddleware(header string, allowList []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(allowList) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Authorize(r.Header.Get(header), allowList) {
				writeError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleMiddleware applies a global admission limit. Rejected requests get 429 and a
// Retry-After header. A failing throttle backend admits the request.
func ThrottleMiddleware(t throttle.Throttle, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := t.Allow(r.Context())
			if err != nil {
				logger.Warn("throttle check failed, admitting request", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
				writeError(w, ErrThrottled)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// LoggingMiddleware logs every request with its final status code at debug level.
func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // Default to 200 OK if WriteHeader is not called.
			}

			next.ServeHTTP(recorder, r)

			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.RequestURI),
				slog.Int("status", recorder.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and writes it to the response.
func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack is needed for websocket upgrades.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyTopic):
		return http.StatusBadRequest
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	http.Error(w, http.StatusText(code), code)
}
