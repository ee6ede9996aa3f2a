// Package throttle is an optional global admission limit in front of the dispatcher.
// It is one shared budget for all callers, not a per-key limit.
package throttle

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait when not allowed.
	RetryAfter time.Duration
}

// Throttle is the interface that admission limiters implement.
type Throttle interface {
	Allow(ctx context.Context) (Decision, error)
}
