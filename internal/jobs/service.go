// Package jobs owns the inference job lifecycle: submission, status reads
// reconciled against the live queue, and the orphan sweep.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

// StatusPathPrefix is the API route clients poll for job status.
const StatusPathPrefix = "/api/v1/inference/status/"

// JobStore is the slice of store.Store the service needs.
type JobStore interface {
	GetUpload(ctx context.Context, id, userID int64) (*models.Upload, error)
	CreateJob(ctx context.Context, job *models.InferenceJob) error
	GetJob(ctx context.Context, id, userID int64) (*models.InferenceJob, error)
	SaveJobIf(ctx context.Context, job *models.InferenceJob, expected models.JobStatus) error
	ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.InferenceJob, error)
}

// Options configures a Service.
type Options struct {
	// BaseURL prefixes converted paths to build preview URLs.
	BaseURL string
	Queue   queue.Options
	Logger  *slog.Logger
}

// Service implements job submission and status reads.
type Service struct {
	store  JobStore
	queue  queue.Queue
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(s JobStore, q queue.Queue, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		queue:  q,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// --- Submission ---

// TransformRequest asks for one voice conversion of an owned upload.
type TransformRequest struct {
	RequestID string
	UserID    int64
	UploadID  int64
	VoiceID   int64
	Pitch     int
}

// Submission is returned once the job is durable and enqueued.
type Submission struct {
	JobID           int64  `json:"jobId"`
	QueueJobID      string `json:"queueJobId"`
	StatusCheckPath string `json:"statusCheckUrl"`
}

// RequestTransformation creates a pending job for the upload and enqueues it.
// An enqueue failure leaves the job pending and returns an InternalError.
func (s *Service) RequestTransformation(ctx context.Context, req TransformRequest) (*Submission, error) {
	log := s.logger.With("request_id", req.RequestID, "user_id", req.UserID, "upload_id", req.UploadID)

	if req.UploadID < 1 {
		return nil, &ValidationError{Field: "fileId", Message: "must be a positive integer"}
	}

	upload, err := s.store.GetUpload(ctx, req.UploadID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("upload %d: %w", req.UploadID, ErrNotFound)
	}
	if err != nil {
		return nil, &InternalError{Msg: "failed to look up upload", Err: err}
	}

	job := &models.InferenceJob{
		UserID:       req.UserID,
		UploadID:     &upload.ID,
		VoiceID:      req.VoiceID,
		Pitch:        req.Pitch,
		OriginalPath: upload.FilePath,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// upload deleted between lookup and insert
			return nil, fmt.Errorf("upload %d: %w", req.UploadID, ErrNotFound)
		}
		return nil, &InternalError{Msg: "failed to create job", Err: err}
	}
	log = log.With("job_id", job.ID)

	queueJobID, err := s.queue.Enqueue(ctx, job.ID, s.opts.Queue)
	if err != nil {
		log.Error("enqueue failed, job left pending", "error", err)
		return nil, &InternalError{Msg: "failed to initiate job", Err: err}
	}

	queued := job.Clone()
	queued.QueueJobID = &queueJobID
	queued.MarkQueued()
	if err := s.store.SaveJobIf(ctx, queued, models.JobStatusPending); err != nil {
		// the queue already has the entry; the next status read reconciles
		log.Warn("could not record queued status", "queue_job_id", queueJobID, "error", err)
	}

	log.Info("inference job submitted", "queue_job_id", queueJobID)
	return &Submission{
		JobID:           job.ID,
		QueueJobID:      queueJobID,
		StatusCheckPath: fmt.Sprintf("%s%d", StatusPathPrefix, job.ID),
	}, nil
}

// --- Status ---

// StatusQuery identifies the job to report on.
type StatusQuery struct {
	RequestID string
	JobID     int64
	UserID    int64
}

// ResultView describes the converted artifact of a completed job.
type ResultView struct {
	JobID             int64  `json:"jobId"`
	PreviewURL        string `json:"previewUrl"`
	ConvertedPath     string `json:"convertedPath"`
	ConvertedFileSize *int64 `json:"convertedFileSize"`
}

// StatusView is the reconciled status of a job.
type StatusView struct {
	QueueJobID           *string          `json:"queueJobId"`
	DBID                 int64            `json:"dbId"`
	Status               models.JobStatus `json:"status"`
	QueueState           queue.State      `json:"queueState"`
	WaitingCount         *int             `json:"waitingCount"`
	Result               *ResultView      `json:"result"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
	ProcessingStartedAt  *time.Time       `json:"processingStartedAt"`
	ProcessingFinishedAt *time.Time       `json:"processingFinishedAt"`
	ErrorMessage         *string          `json:"errorMessage"`
}

// GetStatus loads the job, reads the live queue entry and reconciles the two.
// Queue errors are logged and the stored state is reported as is.
func (s *Service) GetStatus(ctx context.Context, q StatusQuery) (*StatusView, error) {
	log := s.logger.With("request_id", q.RequestID, "job_id", q.JobID)

	job, err := s.store.GetJob(ctx, q.JobID, q.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("job %d: %w", q.JobID, ErrNotFound)
	}
	if err != nil {
		return nil, &InternalError{Msg: "failed to load job", Err: err}
	}

	key := queue.JobKey(job.ID)
	if job.QueueJobID != nil {
		key = *job.QueueJobID
	}

	state, waiting, reason := s.inspect(ctx, log, key)

	current := job
	next, changed := Reconcile(job, state, reason, s.now())
	if job.QueueJobID == nil && state != queue.StateUnknown {
		// the entry exists under the derived key; remember it
		if !changed {
			next = job.Clone()
		}
		next.QueueJobID = &key
		changed = true
	}
	if changed {
		if err := s.store.SaveJobIf(ctx, next, job.Status); err != nil {
			log.Warn("reconciled status not persisted", "from", job.Status, "to", next.Status, "error", err)
		} else {
			log.Info("job status reconciled", "from", job.Status, "to", next.Status, "queue_state", state)
		}
		current = next
	}

	view := &StatusView{
		QueueJobID:           current.QueueJobID,
		DBID:                 current.ID,
		Status:               current.Status,
		QueueState:           state,
		WaitingCount:         waiting,
		CreatedAt:            current.CreatedAt,
		UpdatedAt:            current.UpdatedAt,
		ProcessingStartedAt:  current.ProcessingStartedAt,
		ProcessingFinishedAt: current.ProcessingFinishedAt,
		ErrorMessage:         current.ErrorMessage,
	}
	if current.Status == models.JobStatusCompleted && current.ConvertedPath != nil {
		view.Result = &ResultView{
			JobID:             current.ID,
			PreviewURL:        PreviewURL(s.opts.BaseURL, *current.ConvertedPath),
			ConvertedPath:     *current.ConvertedPath,
			ConvertedFileSize: current.ConvertedFileSize,
		}
	}
	return view, nil
}

// inspect reads the queue entry. Any adapter error degrades to unknown.
func (s *Service) inspect(ctx context.Context, log *slog.Logger, key string) (queue.State, *int, string) {
	state, err := s.queue.State(ctx, key)
	if err != nil {
		log.Warn("queue state unavailable", "queue_job_id", key, "error", err)
		return queue.StateUnknown, nil, ""
	}

	var waiting *int
	var reason string
	switch state {
	case queue.StateWaiting, queue.StateDelayed:
		n, err := s.queue.WaitingCount(ctx)
		if err != nil {
			log.Warn("queue waiting count unavailable", "error", err)
		} else {
			waiting = &n
		}
	case queue.StateFailed:
		reason, err = s.queue.FailureReason(ctx, key)
		if err != nil {
			log.Warn("queue failure reason unavailable", "queue_job_id", key, "error", err)
		}
	}
	return state, waiting, reason
}

// PreviewURL joins baseURL and a stored relative path with exactly one slash,
// normalizing backslashes.
func PreviewURL(baseURL, path string) string {
	p := strings.TrimLeft(strings.ReplaceAll(path, "\\", "/"), "/")
	return strings.TrimRight(baseURL, "/") + "/" + p
}
