// Package queue wraps the Redis-backed work queue that carries inference jobs
// from the API to the worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every broker-side failure.
var ErrUnavailable = errors.New("queue broker unavailable")

// TypeInference is the task type for voice conversion jobs.
const TypeInference = "inference:convert"

// State is the live broker-side state of a queue entry.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateUnknown covers entries that were purged after success and entries
	// that never existed. It is not an error.
	StateUnknown State = "unknown"
)

// States lists every queue state.
var States = []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed, StateUnknown}

// Queue is the interface the lifecycle service uses to talk to the broker.
// Implementations must be safe for concurrent use.
type Queue interface {
	Enqueue(ctx context.Context, jobID int64, opts Options) (string, error)
	State(ctx context.Context, queueJobID string) (State, error)
	WaitingCount(ctx context.Context) (int, error)
	FailureReason(ctx context.Context, queueJobID string) (string, error)
}

// JobKey derives the deterministic queue job id for a durable job id, so the
// key can always be recomputed even if the stored queue id is lost.
func JobKey(jobID int64) string {
	return fmt.Sprintf("inference-%d", jobID)
}

// Options is the retry policy attached to an entry at enqueue time.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
	// RemoveOnSuccess drops the entry once it completes. When false the entry
	// is kept for SuccessRetention.
	RemoveOnSuccess  bool
	SuccessRetention time.Duration
	// RetainOnFailure keeps exhausted entries queryable. The broker always
	// archives exhausted entries, so false is rejected.
	RetainOnFailure bool
}

// DefaultOptions returns 3 attempts, 1s doubling backoff and a 10s per-attempt timeout.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		BackoffBase:      time.Second,
		Timeout:          10 * time.Second,
		RemoveOnSuccess:  true,
		SuccessRetention: 24 * time.Hour,
		RetainOnFailure:  true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.SuccessRetention <= 0 {
		o.SuccessRetention = d.SuccessRetention
	}
	return o
}

// Payload is the JSON body of an inference task.
type Payload struct {
	JobID         int64 `json:"jobId"`
	BackoffBaseMs int64 `json:"backoffBaseMs"`
}

const maxBackoff = time.Hour

// Backoff returns the delay before the next attempt after retried previous
// retries: base, 2*base, 4*base, ... capped at one hour.
func Backoff(base time.Duration, retried int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retried < 0 {
		retried = 0
	}
	d := base
	for i := 0; i < retried; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
