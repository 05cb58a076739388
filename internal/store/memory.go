package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

// MemoryStore is an in-process Store with the same contract as
// PostgresStore. It backs unit tests and local runs without a database.
type MemoryStore struct {
	mu         sync.Mutex
	uploads    map[int64]*models.Upload
	jobs       map[int64]*models.InferenceJob
	nextUpload int64
	nextJob    int64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uploads: make(map[int64]*models.Upload),
		jobs:    make(map[int64]*models.InferenceJob),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Uploads ---

func (s *MemoryStore) CreateUpload(_ context.Context, upload *models.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpload++
	upload.ID = s.nextUpload
	upload.UploadedAt = s.now()
	cp := *upload
	s.uploads[upload.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUpload(_ context.Context, id, userID int64) (*models.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok || u.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) DeleteUpload(_ context.Context, id, userID int64) (*models.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok || u.UserID != userID {
		return nil, ErrNotFound
	}
	delete(s.uploads, id)
	for _, j := range s.jobs {
		if j.UploadID != nil && *j.UploadID == id {
			j.UploadID = nil
		}
	}
	return u, nil
}

func (s *MemoryStore) CountUploads(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.uploads)), nil
}

// --- Inference Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.InferenceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.UploadID != nil {
		if _, ok := s.uploads[*job.UploadID]; !ok {
			return ErrNotFound
		}
	}
	s.nextJob++
	now := s.now()
	job.ID = s.nextJob
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id, userID int64) (*models.InferenceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) GetJobByID(_ context.Context, id int64) (*models.InferenceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) SaveJob(_ context.Context, job *models.InferenceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		s.update(existing, job)
		return nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = job.Clone()
	if job.ID > s.nextJob {
		s.nextJob = job.ID
	}
	return nil
}

func (s *MemoryStore) SaveJobIf(_ context.Context, job *models.InferenceJob, expected models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != expected {
		return ErrStaleWrite
	}
	s.update(existing, job)
	return nil
}

func (s *MemoryStore) ListStalePendingJobs(_ context.Context, cutoff time.Time, limit int) ([]*models.InferenceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var jobs []*models.InferenceJob
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending && j.QueueJobID == nil && j.CreatedAt.Before(cutoff) {
			jobs = append(jobs, j.Clone())
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// update copies the mutable fields of job onto existing, leaving identity,
// ownership and the upload reference alone.
func (s *MemoryStore) update(existing, job *models.InferenceJob) {
	c := job.Clone()
	existing.Status = c.Status
	existing.VoiceID = c.VoiceID
	existing.Pitch = c.Pitch
	existing.OriginalPath = c.OriginalPath
	existing.ConvertedPath = c.ConvertedPath
	existing.ConvertedFileSize = c.ConvertedFileSize
	existing.QueueJobID = c.QueueJobID
	existing.ErrorMessage = c.ErrorMessage
	existing.ProcessingStartedAt = c.ProcessingStartedAt
	existing.ProcessingFinishedAt = c.ProcessingFinishedAt
	existing.UpdatedAt = s.now()
	job.UpdatedAt = existing.UpdatedAt
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
