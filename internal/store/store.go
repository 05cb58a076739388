package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrStaleWrite is returned by conditional writes when the stored status no
// longer matches the status the caller read.
var ErrStaleWrite = errors.New("stale write: stored status changed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUpload(ctx context.Context, upload *models.Upload) error
	GetUpload(ctx context.Context, id, userID int64) (*models.Upload, error)
	DeleteUpload(ctx context.Context, id, userID int64) (*models.Upload, error)
	CountUploads(ctx context.Context) (int64, error)

	CreateJob(ctx context.Context, job *models.InferenceJob) error
	GetJob(ctx context.Context, id, userID int64) (*models.InferenceJob, error)
	GetJobByID(ctx context.Context, id int64) (*models.InferenceJob, error)
	SaveJob(ctx context.Context, job *models.InferenceJob) error
	SaveJobIf(ctx context.Context, job *models.InferenceJob, expected models.JobStatus) error
	ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.InferenceJob, error)
}
