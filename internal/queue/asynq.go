package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// AsynqQueue implements Queue on top of an asynq client and inspector.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewAsynqQueue connects to the broker at redisURL. Entries go to queueName.
func NewAsynqQueue(redisURL, queueName string) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue redis URL: %w", err)
	}
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queueName,
	}, nil
}

// Enqueue submits jobID under its deterministic key. An entry that already
// exists under that key counts as enqueued.
func (q *AsynqQueue) Enqueue(ctx context.Context, jobID int64, opts Options) (string, error) {
	o := opts.withDefaults()
	if !o.RetainOnFailure {
		return "", fmt.Errorf("enqueue: RetainOnFailure=false is not supported")
	}

	id := JobKey(jobID)
	payload, err := json.Marshal(Payload{JobID: jobID, BackoffBaseMs: o.BackoffBase.Milliseconds()})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	taskOpts := []asynq.Option{
		asynq.Queue(q.queue),
		asynq.TaskID(id),
		asynq.MaxRetry(o.MaxAttempts - 1),
		asynq.Timeout(o.Timeout),
	}
	if !o.RemoveOnSuccess {
		taskOpts = append(taskOpts, asynq.Retention(o.SuccessRetention))
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TypeInference, payload), taskOpts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, id, err)
	}
	return id, nil
}

func (q *AsynqQueue) State(_ context.Context, queueJobID string) (State, error) {
	info, err := q.taskInfo(queueJobID)
	if err != nil {
		return StateUnknown, err
	}
	if info == nil {
		return StateUnknown, nil
	}
	return stateFromTask(info.State), nil
}

// WaitingCount is the number of entries not yet picked up: pending plus
// scheduled retries. It is a depth proxy, not a position.
func (q *AsynqQueue) WaitingCount(_ context.Context) (int, error) {
	info, err := q.inspector.GetQueueInfo(q.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: queue info: %v", ErrUnavailable, err)
	}
	return info.Pending + info.Scheduled + info.Retry, nil
}

func (q *AsynqQueue) FailureReason(_ context.Context, queueJobID string) (string, error) {
	info, err := q.taskInfo(queueJobID)
	if err != nil || info == nil {
		return "", err
	}
	return info.LastErr, nil
}

// Ping checks broker connectivity.
func (q *AsynqQueue) Ping(_ context.Context) error {
	if _, err := q.inspector.Queues(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the broker connections.
func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// taskInfo returns nil, nil when the entry or its queue does not exist.
func (q *AsynqQueue) taskInfo(queueJobID string) (*asynq.TaskInfo, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, queueJobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: task info %s: %v", ErrUnavailable, queueJobID, err)
	}
	return info, nil
}

func stateFromTask(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStatePending, asynq.TaskStateAggregating:
		return StateWaiting
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return StateDelayed
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		return StateUnknown
	}
}

// Compile-time check that AsynqQueue implements Queue.
var _ Queue = (*AsynqQueue)(nil)
