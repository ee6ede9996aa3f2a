package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every call to Redis.
const DefaultTimeout = 2 * time.Second

// Options describes how to reach Redis. URL wins over the discrete fields when set.
type Options struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// NewRedisClient builds a go-redis client from Options.
func NewRedisClient(o Options) (*redis.Client, error) {
	if o.URL != "" {
		opts, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	host := o.Host
	if host == "" {
		host = "localhost"
	}
	port := o.Port
	if port == 0 {
		port = 6379
	}

	return redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	}), nil
}

// RedisStore is an implementation of the Store interface over a Redis client.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore wraps rdb.
func NewRedisStore(rdb *redis.Client, opts ...func(*RedisStore)) *RedisStore {
	s := &RedisStore{
		client:  rdb,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithTimeout sets the per-call deadline. Zero or negative leaves the default.
func WithTimeout(d time.Duration) func(*RedisStore) {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Client exposes the underlying client so other components can share the connection pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Publish sends payload to every subscriber of topic.
func (s *RedisStore) Publish(ctx context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.client.Publish(ctx, topic, payload).Err()
}

// Set stores payload under the key topic.
func (s *RedisStore) Set(ctx context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.client.Set(ctx, topic, payload, 0).Err()
}

// Ping checks that Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
