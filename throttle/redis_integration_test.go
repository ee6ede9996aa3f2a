//go:build integration

package throttle_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/parkerroan/rest2redis/throttle"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisThrottle_SharedBudget(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())

	key := throttle.WithKey("rest2redis:throttle:test:" + uuid.NewString())
	a := throttle.NewRedisThrottle(rdb, 1, 2, key)
	b := throttle.NewRedisThrottle(rdb, 1, 2, key)
	ctx := context.Background()

	d, err := a.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = b.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = a.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "both instances draw from one budget")
	assert.Greater(t, d.RetryAfter.Seconds(), 0.0)
}
