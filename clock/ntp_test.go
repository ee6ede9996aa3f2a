package clock_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parkerroan/rest2redis/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNTP_SyncAppliesOffset(t *testing.T) {
	c := clock.NewNTP("pool.example", clock.WithQueryFunc(func(string) (time.Duration, error) {
		return time.Hour, nil
	}))

	require.NoError(t, c.Sync())
	assert.Equal(t, time.Hour, c.Offset())
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Now(), time.Second)
}

func TestNTP_FailedSyncKeepsOffset(t *testing.T) {
	fail := false
	c := clock.NewNTP("pool.example", clock.WithQueryFunc(func(string) (time.Duration, error) {
		if fail {
			return 0, errors.New("unreachable")
		}
		return 3 * time.Second, nil
	}))

	require.NoError(t, c.Sync())
	fail = true
	assert.Error(t, c.Sync())
	assert.Equal(t, 3*time.Second, c.Offset())
}

func TestNTP_StartStopNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	c := clock.NewNTP("pool.example",
		clock.WithRefreshEvery(10*time.Millisecond),
		clock.WithQueryFunc(func(string) (time.Duration, error) {
			calls.Add(1)
			return 0, nil
		}),
	)

	c.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	c.Stop()

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestManual_Advance(t *testing.T) {
	start := time.Unix(1000, 0)
	m := clock.NewManual(start)
	m.Advance(4 * time.Second)
	assert.Equal(t, start.Add(4*time.Second), m.Now())
}
