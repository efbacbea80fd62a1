package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"exposure_backend/internal/agents"
	"exposure_backend/internal/events"
	exposureservice "exposure_backend/internal/exposure/service"
	"exposure_backend/internal/scheduler"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/config"
	"exposure_backend/platform/db"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"
	"exposure_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.GetRedisURL() != "" {
		if c, err := db.NewRedisClient(ctx, cfg); err != nil {
			log.Warn("redis unavailable; agent directory cache disabled", "error", err)
		} else {
			redisClient = c
			defer func() { _ = redisClient.Close() }()
		}
	}

	eventBus := events.NewInMemoryBus(log)
	store := docstore.NewPostgresStore(pool)

	// Worker-side wiring (no HTTP handlers required).
	summarySvc := summary.New(store, log)
	summarySvc.Subscribe(eventBus)

	agentsModule := agents.NewModule(pool, redisClient, eventBus, validator.New(), cfg, log)
	exposureSvc := exposureservice.New(store, exposureservice.Config{
		Workers:    cfg.GetExposureWorkers(),
		FlushEvery: cfg.GetExposureFlushEvery(),
		DefaultOEL: cfg.GetExposureDefaultOEL(),
	}, log)
	exposureSvc.SetDirectory(agentsModule.Service())
	exposureSvc.SetEventBus(eventBus)

	cleanupInterval := getDurationEnv("JOB_CLEANUP_INTERVAL", time.Hour)
	retention := time.Duration(getPositiveIntEnv("JOB_RETENTION_DAYS", 30)) * 24 * time.Hour
	jobCleanup := scheduler.NewJobCleanup(exposureSvc.Tracker(), log, cleanupInterval, retention)
	go jobCleanup.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, exposureSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getPositiveIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
