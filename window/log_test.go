package window_test

import (
	"sync"
	"testing"
	"time"

	"github.com/parkerroan/rest2redis/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1_700_000_000, 0)

func at(sec float64) time.Time {
	return base.Add(time.Duration(sec * float64(time.Second)))
}

func ev(sec float64) window.Event {
	return window.Event{Timestamp: at(sec), Topic: "foo/bar", Kind: window.Publish}
}

func logs(width time.Duration) map[string]window.Log {
	return map[string]window.Log{
		"heap": window.NewHeapLog(width),
		"ring": window.NewRingLog(100, width),
	}
}

func TestLog_CountSlidesWithWindow(t *testing.T) {
	for name, l := range logs(10 * time.Second) {
		t.Run(name, func(t *testing.T) {
			l.Append(ev(0))
			l.Append(ev(4))
			l.Append(ev(9))

			assert.Equal(t, 3, l.Count(at(9)))
			assert.Equal(t, 3, l.Count(at(10)), "event exactly window-width old is still counted")
			assert.Equal(t, 2, l.Count(at(11)))
			assert.Equal(t, 1, l.Count(at(15)))
			assert.Equal(t, 0, l.Count(at(19.5)))
		})
	}
}

func TestLog_PruneThenCount(t *testing.T) {
	testCases := []struct {
		description string
		events      []float64
		now         float64
		expected    int
	}{
		{description: "empty log", now: 5, expected: 0},
		{description: "all fresh", events: []float64{1, 2, 3}, now: 5, expected: 3},
		{description: "all expired", events: []float64{1, 2, 3}, now: 30, expected: 0},
		{description: "boundary kept", events: []float64{0, 10}, now: 10, expected: 2},
		{description: "just past boundary", events: []float64{0, 10}, now: 10.001, expected: 1},
	}

	for _, tc := range testCases {
		for name, l := range logs(10 * time.Second) {
			t.Run(tc.description+"/"+name, func(t *testing.T) {
				for _, s := range tc.events {
					l.Append(ev(s))
				}

				removed := l.Prune(at(tc.now))

				assert.Equal(t, tc.expected, l.Count(at(tc.now)))
				assert.Equal(t, tc.expected, l.Len())
				assert.Equal(t, len(tc.events)-tc.expected, removed)
			})
		}
	}
}

func TestHeapLog_OutOfOrderAppends(t *testing.T) {
	l := window.NewHeapLog(10 * time.Second)
	l.Append(ev(9))
	l.Append(ev(0))
	l.Append(ev(12))
	l.Append(ev(1))

	assert.Equal(t, 2, l.Prune(at(11.5)))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 2, l.Count(at(11.5)))
}

func TestRingLog_OverwritesOldestWhenFull(t *testing.T) {
	l := window.NewRingLog(3, 10*time.Second)
	for i := 0; i < 5; i++ {
		l.Append(ev(float64(i)))
	}

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 3, l.Count(at(5)))
	assert.Equal(t, 3, l.Cap())
}

func TestRingLog_FillsHolesBeforeOverwriting(t *testing.T) {
	l := window.NewRingLog(3, 10*time.Second)
	l.Append(ev(5))
	l.Append(ev(0))
	l.Append(ev(6))

	require.Equal(t, 1, l.Prune(at(10.5)))
	require.Equal(t, 2, l.Len())

	l.Append(ev(7))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 3, l.Count(at(10.5)), "the free slot is used, no live event is lost")
}

func TestLog_CountDoesNotMutate(t *testing.T) {
	for name, l := range logs(10 * time.Second) {
		t.Run(name, func(t *testing.T) {
			l.Append(ev(0))
			l.Append(ev(5))

			assert.Equal(t, 1, l.Count(at(12)))
			assert.Equal(t, 2, l.Len())
		})
	}
}

func TestLog_ConcurrentAppendAndRead(t *testing.T) {
	for name, l := range logs(time.Minute) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 10; i++ {
						l.Append(ev(1))
						_ = l.Count(at(2))
						l.Prune(at(2))
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 80, l.Count(at(2)))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := window.ParseKind("PUBLISH")
	assert.NoError(t, err)
	assert.Equal(t, window.Publish, k)

	k, err = window.ParseKind("Set")
	assert.NoError(t, err)
	assert.Equal(t, window.Set, k)
	assert.Equal(t, "set", k.String())

	_, err = window.ParseKind("nonsense")
	assert.ErrorIs(t, err, window.ErrUnknownKind)
}

func BenchmarkHeapLog_Append(b *testing.B) {
	l := window.NewHeapLog(10 * time.Second)
	now := time.Now()

	for i := 0; i < b.N; i++ {
		l.Append(window.Event{Timestamp: now, Kind: window.Publish})
	}
}

func BenchmarkRingLog_Append(b *testing.B) {
	l := window.NewRingLog(1000, 10*time.Second)
	now := time.Now()

	for i := 0; i < b.N; i++ {
		l.Append(window.Event{Timestamp: now, Kind: window.Publish})
	}
}
