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

	"exposure_backend/internal/agents"
	"exposure_backend/internal/archive"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure"
	exposureservice "exposure_backend/internal/exposure/service"
	apphttp "exposure_backend/internal/http"
	"exposure_backend/internal/http/router"
	"exposure_backend/internal/scheduler"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/config"
	"exposure_backend/platform/db"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"
	"exposure_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, cfg.GetMigrationsDir())
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	redisClient := initRedis(ctx, cfg, log)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	queue, closeQueue := initTaskQueue(cfg, log)
	if closeQueue != nil {
		defer closeQueue()
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := docstore.NewPostgresStore(pool)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	summarySvc := summary.New(store, log)
	summarySvc.Subscribe(eventBus)

	agentsModule := agents.NewModule(pool, redisClient, eventBus, val, cfg, log)

	var enqueuer scheduler.Enqueuer
	if queue != nil {
		enqueuer = queue
	}
	exposureModule := exposure.NewModule(store, eventBus, summarySvc, enqueuer, val, cfg, log)
	exposureSvc := exposureModule.Service()
	exposureSvc.SetDirectory(agentsModule.Service())
	exposureSvc.SetMetrics(exposureservice.NewMetrics(registry))
	if archiver := initArchiver(ctx, cfg, log); archiver != nil {
		exposureSvc.SetArchiver(archiver)
	}

	// OEL changes recompute affected groups on the worker when a queue exists.
	if queue != nil {
		scheduler.NewRecomputeDispatcher(exposureSvc, queue, log).Subscribe(eventBus)
	} else {
		exposureSvc.Subscribe(eventBus)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		Metrics:  registry,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			agentsModule,
			exposureModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; agent directory cache disabled")
		return nil
	}

	client, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis; agent directory cache disabled", "error", err)
		return nil
	}
	return client
}

func initTaskQueue(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; async batch jobs disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task queue client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func initArchiver(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) archive.Archiver {
	if !cfg.IsMinIOEnabled() {
		log.Info("MinIO not configured; import archiving disabled")
		return nil
	}

	archiver, err := archive.NewMinIOArchiver(cfg)
	if err != nil {
		log.Error("failed to initialize import archive", "error", err)
		return nil
	}
	if err := withRetry(ctx, log, "ensure import archive bucket", 5, 2*time.Second, func() error {
		return archiver.EnsureBucketExists(ctx)
	}); err != nil {
		log.Error("failed to ensure import archive bucket; archiving disabled", "error", err, "bucket", cfg.GetMinioBucketImportArchive())
		return nil
	}
	log.Info("import archive initialized", "bucket", cfg.GetMinioBucketImportArchive())
	return archiver
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
