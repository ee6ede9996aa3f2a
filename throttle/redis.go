package throttle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key shared by every gateway using the same throttle.
const DefaultKey = "rest2redis:throttle"

// RedisThrottle is a GCRA limiter kept in Redis, so all gateway instances pointing at
// the same Redis share one budget.
type RedisThrottle struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	key     string
}

// NewRedisThrottle admits rps requests per second with bursts up to burst.
func NewRedisThrottle(rdb *redis.Client, rps float64, burst int, opts ...func(*RedisThrottle)) *RedisThrottle {
	t := &RedisThrottle{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   toLimit(rps, burst),
		key:     DefaultKey,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithKey sets the Redis key.
func WithKey(key string) func(*RedisThrottle) {
	return func(t *RedisThrottle) {
		t.key = key
	}
}

// toLimit expresses a fractional rate as whole events per period.
func toLimit(rps float64, burst int) redis_rate.Limit {
	if burst <= 0 {
		burst = 1
	}
	if rps >= 1 {
		return redis_rate.Limit{Rate: int(math.Round(rps)), Burst: burst, Period: time.Second}
	}
	return redis_rate.Limit{Rate: 1, Burst: burst, Period: time.Duration(float64(time.Second) / rps)}
}

// Allow asks Redis for one token.
func (t *RedisThrottle) Allow(ctx context.Context) (Decision, error) {
	res, err := t.limiter.Allow(ctx, t.key, t.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis throttle: %w", err)
	}

	if res.Allowed == 0 {
		return Decision{Allowed: false, RetryAfter: res.RetryAfter}, nil
	}

	return Decision{Allowed: true}, nil
}
