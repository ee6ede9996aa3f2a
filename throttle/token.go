package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenThrottle is an in-process token bucket using the rate package.
type TokenThrottle struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
}

// NewTokenThrottle admits rps requests per second on average with bursts up to burst.
func NewTokenThrottle(rps float64, burst int) *TokenThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &TokenThrottle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
	}
}

// Allow takes one token if available; it never blocks.
func (t *TokenThrottle) Allow(_ context.Context) (Decision, error) {
	now := time.Now()
	res := t.limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}, nil
	}

	if delay := res.DelayFrom(now); delay > 0 {
		// not spending a token we will not use
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}

	return Decision{Allowed: true}, nil
}

// LimitDetails returns the configured rate and burst.
func (t *TokenThrottle) LimitDetails() (float64, int) {
	return t.rps, t.burst
}
