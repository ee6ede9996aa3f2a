package window

import (
	"context"
	"sync"
	"time"

	"github.com/parkerroan/rest2redis/clock"
	"golang.org/x/exp/slog"
)

// DefaultPruneEvery is how often the Pruner evicts expired events.
const DefaultPruneEvery = time.Second

// Pruner evicts expired events from a Log on a fixed cadence, independent of traffic,
// so the log stays bounded even when nobody reads the rate.
type Pruner struct {
	log    Log
	every  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewPruner creates a Pruner for log.
func NewPruner(log Log, opts ...func(*Pruner)) *Pruner {
	p := &Pruner{
		log:    log,
		every:  DefaultPruneEvery,
		clock:  clock.System{},
		logger: slog.Default(),
		stop:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithPruneEvery sets the prune cadence.
func WithPruneEvery(d time.Duration) func(*Pruner) {
	return func(p *Pruner) {
		if d > 0 {
			p.every = d
		}
	}
}

// WithPruneClock sets the clock used to decide what has expired.
func WithPruneClock(c clock.Clock) func(*Pruner) {
	return func(p *Pruner) {
		p.clock = c
	}
}

// WithPruneLogger sets the logger.
func WithPruneLogger(l *slog.Logger) func(*Pruner) {
	return func(p *Pruner) {
		p.logger = l
	}
}

// Start runs the prune loop in the background until ctx is done or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.every)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-t.C:
				if n := p.log.Prune(p.clock.Now()); n > 0 {
					p.logger.Debug("pruned expired events", slog.Int("removed", n), slog.Int("retained", p.log.Len()))
				}
			}
		}
	}()
}

// Stop ends the prune loop and waits for it to exit. It is safe to call more than once.
func (p *Pruner) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
