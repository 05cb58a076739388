// Package worker executes inference jobs delivered by the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/processing"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

// maxClaimAttempts bounds how often a claim is retried after losing a
// conditional write.
const maxClaimAttempts = 5

// JobStore is the slice of store.Store the worker needs.
type JobStore interface {
	GetJobByID(ctx context.Context, id int64) (*models.InferenceJob, error)
	SaveJobIf(ctx context.Context, job *models.InferenceJob, expected models.JobStatus) error
}

// Worker drives one job through PROCESSING to COMPLETED or FAILED.
type Worker struct {
	store     JobStore
	converter processing.Converter
	logger    *slog.Logger

	// PersistTimeout bounds terminal writes, which run detached from the
	// attempt deadline.
	PersistTimeout time.Duration
	now            func() time.Time
}

func New(s JobStore, c processing.Converter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:          s,
		converter:      c,
		logger:         logger,
		PersistTimeout: 5 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one delivery of jobID. A nil return tells the queue the
// delivery is done; any error is retried until attempts run out.
func (w *Worker) Process(ctx context.Context, jobID int64) error {
	attempt, maxAttempts := queue.AttemptFromContext(ctx)
	log := w.logger.With("job_id", jobID, "attempt", attempt, "max_attempts", maxAttempts)

	job, err := w.claim(ctx, jobID, log)
	if err != nil || job == nil {
		return err
	}
	log.Info("processing job", "voice_id", job.VoiceID, "converter", w.converter.Name())

	out, convErr := w.converter.Convert(ctx, processing.Input{
		JobID:      job.ID,
		UserID:     job.UserID,
		VoiceID:    job.VoiceID,
		Pitch:      job.Pitch,
		SourcePath: job.OriginalPath,
	})

	// A timed-out attempt must still be able to record its outcome.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.PersistTimeout)
	defer cancel()

	if convErr != nil {
		job.MarkFailed(convErr.Error(), w.now())
		if err := w.store.SaveJobIf(pctx, job, models.JobStatusProcessing); err != nil {
			log.Error("failed to record job failure", "error", err, "conversion_error", convErr)
			return fmt.Errorf("record failure of job %d: %w", jobID, err)
		}
		log.Warn("conversion failed", "error", convErr)
		return fmt.Errorf("convert job %d: %w", jobID, convErr)
	}

	job.MarkCompleted(out.ConvertedPath, out.FileSize, w.now())
	if err := w.store.SaveJobIf(pctx, job, models.JobStatusProcessing); err != nil {
		return fmt.Errorf("record completion of job %d: %w", jobID, err)
	}
	log.Info("job completed", "converted_path", out.ConvertedPath, "converted_file_size", out.FileSize)
	return nil
}

// claim loads the job and moves it into PROCESSING. Status reads and the
// late QUEUED write from submission can change the row between load and
// write; both push it the same way, so the claim is retried on the fresh
// row. A nil job with a nil error means there is nothing to process.
func (w *Worker) claim(ctx context.Context, jobID int64, log *slog.Logger) (*models.InferenceJob, error) {
	for i := 0; i < maxClaimAttempts; i++ {
		job, err := w.store.GetJobByID(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			log.Error("job record not found, dropping delivery")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load job %d: %w", jobID, err)
		}

		if job.Status == models.JobStatusCompleted {
			log.Info("job already completed, ignoring duplicate delivery")
			return nil, nil
		}

		loaded := job.Status
		job.MarkProcessing(w.now())
		if job.QueueJobID == nil {
			key := queue.TaskIDFromContext(ctx, job.ID)
			job.QueueJobID = &key
		}

		err = w.store.SaveJobIf(ctx, job, loaded)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, store.ErrStaleWrite) {
			return nil, fmt.Errorf("mark job %d processing: %w", jobID, err)
		}
		log.Debug("job changed before claim, reloading", "loaded_status", loaded)
	}
	return nil, fmt.Errorf("mark job %d processing after %d tries: %w", jobID, maxClaimAttempts, store.ErrStaleWrite)
}

// Handler adapts Process to the queue consumer.
func (w *Worker) Handler() queue.Handler {
	return w.Process
}
