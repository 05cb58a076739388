// Package main runs a standalone wavedeck worker pool that drains the
// inference queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/wavedeck/internal/config"
	"github.com/kiranshivaraju/wavedeck/internal/processing"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	converter, err := processing.NewConverter(cfg.Processor)
	if err != nil {
		return fmt.Errorf("create converter: %w", err)
	}

	consumer, err := queue.NewConsumer(cfg.Queue.RedisURL, cfg.Queue.Name, queue.ConsumerConfig{
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	w := worker.New(store.NewPostgresStore(pool), converter, slog.Default())
	if err := consumer.Start(w.Handler()); err != nil {
		return err
	}
	slog.Info("worker pool running", "queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency, "processor", converter.Name())

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight jobs...")
	consumer.Shutdown()
	return nil
}
