package jobs

import (
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

const unknownError = "unknown error"

// Reconcile derives the status a job should have given the live queue state.
// It returns a rewritten copy and true when the stored record is behind the
// queue, or the original pointer and false when nothing changes.
//
// Completed records are never rewritten. A failed record only moves when the
// queue shows the entry running again.
func Reconcile(stored *models.InferenceJob, state queue.State, queueReason string, now time.Time) (*models.InferenceJob, bool) {
	s := stored.Status
	if s == models.JobStatusCompleted {
		return stored, false
	}

	next := stored.Clone()
	switch state {
	case queue.StateActive:
		if s != models.JobStatusPending && s != models.JobStatusQueued && s != models.JobStatusFailed {
			return stored, false
		}
		next.Status = models.JobStatusProcessing
		if next.ProcessingStartedAt == nil {
			next.ProcessingStartedAt = &now
		}
		next.ProcessingFinishedAt = nil
		next.ErrorMessage = nil
		next.ConvertedPath = nil
		next.ConvertedFileSize = nil

	case queue.StateCompleted:
		if s != models.JobStatusPending && s != models.JobStatusQueued && s != models.JobStatusProcessing {
			return stored, false
		}
		next.Status = models.JobStatusCompleted
		next.ErrorMessage = nil
		next.ProcessingFinishedAt = &now

	case queue.StateFailed:
		if s != models.JobStatusPending && s != models.JobStatusQueued && s != models.JobStatusProcessing {
			return stored, false
		}
		msg := queueReason
		if msg == "" && stored.ErrorMessage != nil {
			msg = *stored.ErrorMessage
		}
		if msg == "" {
			msg = unknownError
		}
		next.MarkFailed(msg, now)

	case queue.StateWaiting, queue.StateDelayed:
		if s != models.JobStatusPending && s != models.JobStatusFailed && s != models.JobStatusProcessing {
			return stored, false
		}
		next.MarkQueued()

	default:
		return stored, false
	}
	return next, true
}
