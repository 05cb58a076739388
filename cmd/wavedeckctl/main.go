// Package main is wavedeckctl, an operator CLI for inspecting and repairing
// inference jobs outside the API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/wavedeck/internal/config"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	q, err := queue.NewAsynqQueue(cfg.Queue.RedisURL, cfg.Queue.Name)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	pgStore := store.NewPostgresStore(pool)
	root := newRootCmd(&deps{
		cfg:     cfg,
		store:   pgStore,
		queue:   q,
		uploads: pgStore,
		migrate: func(dir string) error {
			return store.RunMigrations(cfg.Database.URL, dir)
		},
	})
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
