// Package main is the entrypoint for the wavedeck API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/api"
	"github.com/kiranshivaraju/wavedeck/internal/api/handler"
	mw "github.com/kiranshivaraju/wavedeck/internal/api/middleware"
	"github.com/kiranshivaraju/wavedeck/internal/api/response"
	"github.com/kiranshivaraju/wavedeck/internal/blob"
	"github.com/kiranshivaraju/wavedeck/internal/cache"
	"github.com/kiranshivaraju/wavedeck/internal/config"
	"github.com/kiranshivaraju/wavedeck/internal/jobs"
	"github.com/kiranshivaraju/wavedeck/internal/processing"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/internal/upload"
	"github.com/kiranshivaraju/wavedeck/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "processor", cfg.Processor.Backend, "env", cfg.Server.Env,
		"embedded_workers", cfg.Worker.Embedded)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to the queue broker
	jobQueue, err := queue.NewAsynqQueue(cfg.Queue.RedisURL, cfg.Queue.Name)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer jobQueue.Close()

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)

	blobs, err := blob.NewDiskStore(cfg.Upload.Dir)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

	jobSvc := jobs.NewService(pgStore, jobQueue, jobs.Options{
		BaseURL: cfg.Server.BaseURL,
		Queue:   queueOptions(cfg.Queue),
		Logger:  slog.Default(),
	})
	uploadSvc := upload.NewService(pgStore, blobs, cfg.Upload.MaxBytes, slog.Default())

	// 7. Start embedded workers and the orphan sweeper
	var consumer *queue.Consumer
	if cfg.Worker.Embedded {
		consumer, err = startWorkers(cfg, pgStore)
		if err != nil {
			return err
		}
	}

	sweeper := jobs.NewSweeper(pgStore, jobQueue, cfg.Sweep.Interval, cfg.Sweep.StaleAfter, slog.Default())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimit),
		User:      mw.NewUser(cfg.Server.DefaultUserID),

		HealthHandler:       healthHandler(pgStore, redisCache, jobQueue),
		SubmitInference:     handler.NewSubmitInferenceHandler(jobSvc),
		JobStatusHandler:    handler.NewJobStatusHandler(jobSvc),
		UploadHandler:       handler.NewUploadHandler(uploadSvc, cfg.Upload.MaxBytes),
		DeleteUploadHandler: handler.NewDeleteUploadHandler(uploadSvc),
		UploadDir:           cfg.Upload.Dir,
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	if consumer != nil {
		consumer.Shutdown()
	}
	<-sweepDone

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// startWorkers runs the queue consumer in-process, processing jobs against s.
func startWorkers(cfg *config.Config, s *store.PostgresStore) (*queue.Consumer, error) {
	converter, err := processing.NewConverter(cfg.Processor)
	if err != nil {
		return nil, fmt.Errorf("create converter: %w", err)
	}

	consumer, err := queue.NewConsumer(cfg.Queue.RedisURL, cfg.Queue.Name, queue.ConsumerConfig{
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	w := worker.New(s, converter, slog.Default())
	if err := consumer.Start(w.Handler()); err != nil {
		return nil, err
	}
	slog.Info("embedded workers started", "concurrency", cfg.Worker.Concurrency, "processor", converter.Name())
	return consumer, nil
}

func queueOptions(cfg config.QueueConfig) queue.Options {
	opts := queue.DefaultOptions()
	opts.MaxAttempts = cfg.MaxAttempts
	opts.BackoffBase = cfg.BackoffBase
	opts.Timeout = cfg.JobTimeout
	return opts
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and queue broker connectivity.
func healthHandler(s store.Store, c cache.Cache, q pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
