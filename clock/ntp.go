package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"golang.org/x/exp/slog"
)

// QueryFunc measures the offset of the local clock against a time server.
type QueryFunc func(server string) (time.Duration, error)

// NTP is a Clock corrected by the offset measured against an NTP server.
// Gateways that mirror events to each other use it so their timestamps agree.
type NTP struct {
	server string
	every  time.Duration
	query  QueryFunc
	logger *slog.Logger

	mu     sync.RWMutex
	offset time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewNTP creates an NTP clock for server. Call Sync once before use and
// Start to keep the offset fresh.
func NewNTP(server string, opts ...func(*NTP)) *NTP {
	c := &NTP{
		server: server,
		every:  10 * time.Minute,
		query:  queryOffset,
		logger: slog.Default(),
		stop:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithRefreshEvery sets how often the offset is re-measured.
func WithRefreshEvery(d time.Duration) func(*NTP) {
	return func(c *NTP) {
		c.every = d
	}
}

// WithQueryFunc replaces the NTP query, mostly for tests.
func WithQueryFunc(q QueryFunc) func(*NTP) {
	return func(c *NTP) {
		c.query = q
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) func(*NTP) {
	return func(c *NTP) {
		c.logger = l
	}
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Now returns the local time adjusted by the last measured offset.
func (c *NTP) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the last measured offset.
func (c *NTP) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Sync measures the offset once. On failure the previous offset is kept.
func (c *NTP) Sync() error {
	offset, err := c.query(c.server)
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", c.server, err)
	}

	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()

	c.logger.Debug("ntp offset updated", slog.String("server", c.server), slog.Duration("offset", offset))
	return nil
}

// Start re-syncs the offset in the background until ctx is done or Stop is called.
func (c *NTP) Start(ctx context.Context) {
	if c.every <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-t.C:
				if err := c.Sync(); err != nil {
					c.logger.Warn("ntp resync failed, keeping previous offset", slog.Any("error", err))
				}
			}
		}
	}()
}

// Stop ends the background refresh and waits for it to exit.
func (c *NTP) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
