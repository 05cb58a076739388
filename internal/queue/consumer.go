package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// Handler processes one delivery of an inference job. A non-nil error makes
// the broker retry the entry until its attempts are exhausted.
type Handler func(ctx context.Context, jobID int64) error

// ConsumerConfig controls the worker pool that drains the queue.
type ConsumerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Consumer pulls inference entries from the queue and dispatches them to a
// Handler with bounded concurrency.
type Consumer struct {
	srv    *asynq.Server
	logger *slog.Logger
}

// NewConsumer builds a consumer for queueName on the broker at redisURL.
func NewConsumer(redisURL, queueName string, cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue redis URL: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{queueName: 1},
		RetryDelayFunc:  RetryDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &slogAdapter{logger: logger},
		LogLevel:        asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			attempt, max := AttemptFromContext(ctx)
			id, _ := asynq.GetTaskID(ctx)
			logger.Warn("queue attempt failed",
				"queue_job_id", id,
				"attempt", attempt,
				"max_attempts", max,
				"error", err,
			)
		}),
	})
	return &Consumer{srv: srv, logger: logger}, nil
}

// Start begins processing in background goroutines and returns immediately.
func (c *Consumer) Start(h Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeInference, func(ctx context.Context, t *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			// a malformed payload will never succeed
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		return h(ctx, p.JobID)
	})
	if err := c.srv.Start(mux); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	c.logger.Info("queue consumer started")
	return nil
}

// Shutdown stops fetching new entries and waits for in-flight handlers up to
// the configured shutdown timeout.
func (c *Consumer) Shutdown() {
	c.srv.Shutdown()
	c.logger.Info("queue consumer stopped")
}

// RetryDelay is the broker retry hook. The backoff base travels in the task
// payload so every entry keeps the policy it was enqueued with.
func RetryDelay(retried int, _ error, t *asynq.Task) time.Duration {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.BackoffBaseMs <= 0 {
		return Backoff(DefaultOptions().BackoffBase, retried)
	}
	return Backoff(time.Duration(p.BackoffBaseMs)*time.Millisecond, retried)
}

// AttemptFromContext reports the 1-based attempt number and the total allowed
// attempts for the delivery carried by ctx. Outside a delivery it returns 1, 1.
func AttemptFromContext(ctx context.Context) (attempt, max int) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1, 1
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried + 1, maxRetry + 1
}

// TaskIDFromContext returns the broker entry id of the delivery carried by
// ctx. Outside a delivery it falls back to the deterministic JobKey.
func TaskIDFromContext(ctx context.Context, jobID int64) string {
	if id, ok := asynq.GetTaskID(ctx); ok && id != "" {
		return id
	}
	return JobKey(jobID)
}

// --- logging ---

type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a *slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...), "component", "asynq") }

func (a *slogAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
