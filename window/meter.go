package window

import (
	"math"
	"strconv"
	"time"
)

// DefaultNormalization is the divisor used to turn a window count into requests per
// second. It is a fixed constant equal to the default window width and does not follow
// a reconfigured window.
const DefaultNormalization = 10 * time.Second

// Meter computes the request rate from a Log.
type Meter struct {
	log           Log
	normalization time.Duration
}

// NewMeter returns a Meter dividing the window count by normalization.
// A non-positive normalization falls back to DefaultNormalization.
func NewMeter(log Log, normalization time.Duration) *Meter {
	if normalization <= 0 {
		normalization = DefaultNormalization
	}
	return &Meter{
		log:           log,
		normalization: normalization,
	}
}

// Rate returns the requests per second at now, rounded to two decimal places.
func (m *Meter) Rate(now time.Time) float64 {
	return Round(float64(m.log.Count(now)) / m.normalization.Seconds())
}

// Normalization returns the divisor in use.
func (m *Meter) Normalization() time.Duration {
	return m.normalization
}

// Round rounds r to two decimal places.
func Round(r float64) float64 {
	return math.Round(r*100) / 100
}

// FormatRate renders r with exactly two decimal places, e.g. "0.30".
func FormatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', 2, 64)
}
