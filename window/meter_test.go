package window_test

import (
	"context"
	"testing"
	"time"

	"github.com/parkerroan/rest2redis/clock"
	"github.com/parkerroan/rest2redis/window"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMeter_Rate(t *testing.T) {
	l := window.NewHeapLog(10 * time.Second)
	m := window.NewMeter(l, window.DefaultNormalization)

	assert.Equal(t, 0.0, m.Rate(at(0)))

	l.Append(ev(0))
	l.Append(ev(1))
	l.Append(ev(2))

	assert.Equal(t, 0.3, m.Rate(at(2)))
	assert.Equal(t, "0.30", window.FormatRate(m.Rate(at(2))))
	assert.Equal(t, m.Rate(at(2)), m.Rate(at(2)), "repeated reads without appends agree")
}

func TestMeter_NormalizationIgnoresWindowWidth(t *testing.T) {
	l := window.NewHeapLog(60 * time.Second)
	m := window.NewMeter(l, 0)

	for i := 0; i < 30; i++ {
		l.Append(ev(float64(i)))
	}

	assert.Equal(t, window.DefaultNormalization, m.Normalization())
	assert.Equal(t, 3.0, m.Rate(at(30)))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0.00", window.FormatRate(0))
	assert.Equal(t, "1.23", window.FormatRate(window.Round(1.2345)))
	assert.Equal(t, "12.50", window.FormatRate(12.5))
}

func TestPruner_EvictsOnCadence(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := clock.NewManual(at(0))
	l := window.NewHeapLog(10 * time.Second)
	l.Append(ev(0))
	l.Append(ev(5))

	p := window.NewPruner(l, window.WithPruneEvery(5*time.Millisecond), window.WithPruneClock(c))
	p.Start(context.Background())
	defer p.Stop()

	c.Set(at(12))
	assert.Eventually(t, func() bool { return l.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPruner_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := window.NewHeapLog(10 * time.Second)
	p := window.NewPruner(l, window.WithPruneEvery(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Stop()
	p.Stop()
}
