package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Uploads ---

const uploadColumns = `id, user_id, type, file_name, file_size, duration, file_path, file_preview_url, uploaded_at`

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	err := row.Scan(&u.ID, &u.UserID, &u.Type, &u.FileName, &u.FileSize, &u.Duration,
		&u.FilePath, &u.FilePreviewURL, &u.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUpload(ctx context.Context, upload *models.Upload) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO uploads (user_id, type, file_name, file_size, duration, file_path, file_preview_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, uploaded_at`,
		upload.UserID, upload.Type, upload.FileName, upload.FileSize, upload.Duration,
		upload.FilePath, upload.FilePreviewURL,
	).Scan(&upload.ID, &upload.UploadedAt)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUploads(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM uploads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetUpload(ctx context.Context, id, userID int64) (*models.Upload, error) {
	u, err := scanUpload(s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// DeleteUpload removes the upload row and returns it. Jobs referencing it keep
// every field except upload_id, which the foreign key sets to NULL.
func (s *PostgresStore) DeleteUpload(ctx context.Context, id, userID int64) (*models.Upload, error) {
	u, err := scanUpload(s.pool.QueryRow(ctx,
		`DELETE FROM uploads WHERE id = $1 AND user_id = $2 RETURNING `+uploadColumns, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete upload: %w", err)
	}
	return u, nil
}

// --- Inference Jobs ---

const jobColumns = `id, user_id, upload_id, status, voice_id, pitch, original_path, converted_path,
	converted_file_size, queue_job_id, error_message, created_at, updated_at,
	processing_started_at, processing_finished_at`

func scanJob(row pgx.Row) (*models.InferenceJob, error) {
	var j models.InferenceJob
	var status string
	err := row.Scan(&j.ID, &j.UserID, &j.UploadID, &status, &j.VoiceID, &j.Pitch, &j.OriginalPath,
		&j.ConvertedPath, &j.ConvertedFileSize, &j.QueueJobID, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.ProcessingStartedAt, &j.ProcessingFinishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

// CreateJob inserts a pending job. The server-assigned id and timestamps are
// written back into job.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.InferenceJob) error {
	job.Status = models.JobStatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO inference_jobs (user_id, upload_id, status, voice_id, pitch, original_path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		job.UserID, job.UploadID, string(job.Status), job.VoiceID, job.Pitch, job.OriginalPath,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("create job: upload: %w", ErrNotFound)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id, userID int64) (*models.InferenceJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM inference_jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// GetJobByID reads a job without an owner filter. Only backend-trusted
// callers such as the worker use it.
func (s *PostgresStore) GetJobByID(ctx context.Context, id int64) (*models.InferenceJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM inference_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

// SaveJob upserts the full record and bumps updated_at. user_id, upload_id and
// created_at are left untouched on update: upload_id belongs to the foreign key.
func (s *PostgresStore) SaveJob(ctx context.Context, job *models.InferenceJob) error {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO inference_jobs (id, user_id, upload_id, status, voice_id, pitch, original_path,
		   converted_path, converted_file_size, queue_job_id, error_message, created_at, updated_at,
		   processing_started_at, processing_finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   voice_id = EXCLUDED.voice_id,
		   pitch = EXCLUDED.pitch,
		   original_path = EXCLUDED.original_path,
		   converted_path = EXCLUDED.converted_path,
		   converted_file_size = EXCLUDED.converted_file_size,
		   queue_job_id = EXCLUDED.queue_job_id,
		   error_message = EXCLUDED.error_message,
		   processing_started_at = EXCLUDED.processing_started_at,
		   processing_finished_at = EXCLUDED.processing_finished_at,
		   updated_at = NOW()
		 RETURNING updated_at`,
		job.ID, job.UserID, job.UploadID, string(job.Status), job.VoiceID, job.Pitch, job.OriginalPath,
		job.ConvertedPath, job.ConvertedFileSize, job.QueueJobID, job.ErrorMessage, createdAt,
		job.ProcessingStartedAt, job.ProcessingFinishedAt,
	).Scan(&job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// SaveJobIf writes the mutable fields of job only while the stored status still
// equals expected. It returns ErrStaleWrite when another writer got there first.
func (s *PostgresStore) SaveJobIf(ctx context.Context, job *models.InferenceJob, expected models.JobStatus) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE inference_jobs SET
		   status = $2,
		   voice_id = $3,
		   pitch = $4,
		   original_path = $5,
		   converted_path = $6,
		   converted_file_size = $7,
		   queue_job_id = $8,
		   error_message = $9,
		   processing_started_at = $10,
		   processing_finished_at = $11,
		   updated_at = NOW()
		 WHERE id = $1 AND status = $12
		 RETURNING updated_at`,
		job.ID, string(job.Status), job.VoiceID, job.Pitch, job.OriginalPath,
		job.ConvertedPath, job.ConvertedFileSize, job.QueueJobID, job.ErrorMessage,
		job.ProcessingStartedAt, job.ProcessingFinishedAt, string(expected),
	).Scan(&job.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("save job if %s: %w", expected, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inference_jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleWrite
}

// ListStalePendingJobs returns pending jobs created before cutoff that never
// received a queue id.
func (s *PostgresStore) ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.InferenceJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM inference_jobs
		 WHERE status = 'pending' AND queue_job_id IS NULL AND created_at < $1
		 ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.InferenceJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
