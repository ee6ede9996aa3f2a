package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parkerroan/rest2redis"
	"github.com/parkerroan/rest2redis/clock"
	"github.com/parkerroan/rest2redis/cluster"
	"github.com/parkerroan/rest2redis/config"
	"github.com/parkerroan/rest2redis/metrics"
	"github.com/parkerroan/rest2redis/store"
	"github.com/parkerroan/rest2redis/throttle"
	"github.com/parkerroan/rest2redis/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := store.NewRedisClient(store.Options{
		URL:      cfg.RedisURL,
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Username: cfg.RedisUser,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	st := store.NewRedisStore(rdb, store.WithTimeout(cfg.BackendTimeout))
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		// commands answer 503 until redis comes up
		logger.Warn("redis not reachable at startup", slog.Any("error", err))
	}

	var clk clock.Clock = clock.System{}
	var ntpClock *clock.NTP
	if cfg.NTPServer != "" {
		ntpClock = clock.NewNTP(cfg.NTPServer, clock.WithLogger(logger))
		if err := ntpClock.Sync(); err != nil {
			logger.Warn("initial ntp sync failed, using local clock", slog.Any("error", err))
		}
		clk = ntpClock
	}

	log := newLog(cfg)

	opts := []func(*rest2redis.Gateway){
		rest2redis.WithLog(log),
		rest2redis.WithNormalization(cfg.RateNormalization),
		rest2redis.WithPruneEvery(cfg.PruneInterval),
		rest2redis.WithPrefix(cfg.Prefix),
		rest2redis.WithAllowedKeys(cfg.AllowedAPIKeys),
		rest2redis.WithAPIKeyHeader(cfg.APIKeyHeader),
		rest2redis.WithRefreshInterval(cfg.RefreshInterval()),
		rest2redis.WithMaxSessions(cfg.MaxWebsockets),
		rest2redis.WithCORSOrigins(cfg.CORSOrigins),
		rest2redis.WithPaths(rest2redis.Paths{
			Rate:    cfg.RatePath,
			Stats:   cfg.StatsPath,
			WS:      cfg.WSPath,
			Metrics: cfg.MetricsPath,
		}),
		rest2redis.WithClock(clk),
		rest2redis.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		rest2redis.WithLogger(logger),
	}

	if t := newThrottle(cfg, rdb); t != nil {
		opts = append(opts, rest2redis.WithThrottle(t))
	}

	if cfg.ClusterStream != "" {
		mirror := cluster.NewMirror(rdb, log,
			cluster.WithStream(cfg.ClusterStream),
			cluster.WithCappedStream(cfg.ClusterStreamMaxLen),
			cluster.WithLogger(logger),
		)
		logger.Info("mirroring events", slog.String("stream", cfg.ClusterStream), slog.String("instance_id", mirror.InstanceID()))
		opts = append(opts, rest2redis.WithMirror(mirror))
	}

	gw := rest2redis.New(st, opts...)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	gw.Start(gctx)
	if ntpClock != nil {
		ntpClock.Start(gctx)
	}

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("prefix", cfg.Prefix),
			slog.Duration("window", cfg.Window()),
			slog.Bool("open_mode", len(cfg.AllowedAPIKeys) == 0),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// websocket connections are hijacked, the server does not close them
		gw.Stop()
		if ntpClock != nil {
			ntpClock.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLog(cfg config.Config) window.Log {
	if cfg.WindowCapacity > 0 {
		return window.NewRingLog(cfg.WindowCapacity, cfg.Window())
	}
	return window.NewHeapLog(cfg.Window())
}

func newThrottle(cfg config.Config, rdb *redis.Client) throttle.Throttle {
	if cfg.ThrottleRPS <= 0 {
		return nil
	}
	if cfg.ThrottleBackend == "redis" {
		return throttle.NewRedisThrottle(rdb, cfg.ThrottleRPS, cfg.ThrottleBurst,
			throttle.WithKey(cfg.Prefix+":throttle"))
	}
	return throttle.NewTokenThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst)
}
