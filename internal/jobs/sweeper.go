package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

const neverEnqueued = "job was never enqueued"

// Sweeper finds pending jobs whose enqueue never happened and fails them, so
// an orphaned row does not stay pending forever.
type Sweeper struct {
	store      JobStore
	queue      queue.Queue
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	logger     *slog.Logger
	now        func() time.Time
}

func NewSweeper(s JobStore, q queue.Queue, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      s,
		queue:      q,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	if sw.interval <= 0 {
		return
	}
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil {
				sw.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass and returns how many jobs it changed.
// A row whose derived queue entry exists is adopted instead of failed.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := sw.now()
	stale, err := sw.store.ListStalePendingJobs(ctx, now.Add(-sw.staleAfter), sw.batch)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, job := range stale {
		key := queue.JobKey(job.ID)
		state, err := sw.queue.State(ctx, key)
		if err != nil {
			// cannot tell orphaned from queued; leave it for the next pass
			sw.logger.Warn("sweep: queue state unavailable", "job_id", job.ID, "error", err)
			continue
		}

		var next *models.InferenceJob
		if state == queue.StateUnknown {
			next = job.Clone()
			next.MarkFailed(neverEnqueued, now)
		} else {
			var reason string
			if state == queue.StateFailed {
				reason, _ = sw.queue.FailureReason(ctx, key)
			}
			next, _ = Reconcile(job, state, reason, now)
			if next == job {
				next = job.Clone()
			}
			next.QueueJobID = &key
		}

		if err := sw.store.SaveJobIf(ctx, next, models.JobStatusPending); err != nil {
			sw.logger.Warn("sweep: job changed concurrently", "job_id", job.ID, "error", err)
			continue
		}
		sw.logger.Info("sweep: pending job resolved", "job_id", job.ID, "queue_state", state, "status", next.Status)
		changed++
	}
	return changed, nil
}
