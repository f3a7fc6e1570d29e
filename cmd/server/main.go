package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/turtlesoup/internal/config"
	"github.com/playperu/turtlesoup/internal/database"
	"github.com/playperu/turtlesoup/internal/handler/health"
	"github.com/playperu/turtlesoup/internal/images"
	"github.com/playperu/turtlesoup/internal/migrations"
	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/server"
	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/store"
	"github.com/playperu/turtlesoup/internal/sweeper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	if cfg.DBPath != database.Memory {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	st := store.NewSQLiteStore(db)
	checks := map[string]health.Checker{"sqlite": st}

	// --- Images ---
	imgs, err := images.NewDiskStore(cfg.ImageDir)
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}
	checks["images"] = imgs

	// --- Realtime ---
	var relay *realtime.RedisRelay
	poolOpts := []realtime.Option{}
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		relay = realtime.NewRedisRelay(rdb, cfg.RedisPrefix, logger)
		poolOpts = append(poolOpts, realtime.WithRelay(relay))
		checks["redis"] = relay
	} else {
		logger.Info("REDIS_URL not set, fan-out is local to this instance")
	}
	pool := realtime.NewPool(st, logger, poolOpts...)

	// --- Retention ---
	policy := retry.Default(logger)
	policy.Timeout = cfg.StoreTimeout

	sw := sweeper.New(st, imgs, logger,
		sweeper.WithMaxAge(cfg.CleanupMaxAge),
		sweeper.WithItemDelay(cfg.CleanupItemDelay),
		sweeper.WithRetry(policy),
		sweeper.WithNotifier(pool),
	)
	sched := sweeper.NewScheduler(sw, logger)
	if cfg.CleanupAutostart {
		if err := sched.Start(cfg.CleanupIntervalHours); err != nil {
			return fmt.Errorf("starting cleanup schedule: %w", err)
		}
		logger.Info("cleanup schedule started", "interval_hours", cfg.CleanupIntervalHours)
	}

	svc := service.New(service.Deps{
		Store:    st,
		Fanout:   pool,
		Cleaner:  sw,
		Schedule: sched,
		Images:   imgs,
		Logger:   logger,
		Retry:    &policy,
	})

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Service:           svc,
		Images:            imgs,
		Health:            checks,
		AdminPasswordHash: cfg.AdminPasswordHash,
		SPADir:            cfg.SPADir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if relay != nil {
		g.Go(func() error {
			logger.Info("relaying room events over redis", "prefix", cfg.RedisPrefix)
			return relay.Run(gctx, pool.Receive)
		})
	}

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
