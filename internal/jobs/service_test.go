package jobs_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/jobs"
	"github.com/kiranshivaraju/wavedeck/internal/processing/mock"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/internal/worker"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue is an in-memory queue.Queue.
type fakeQueue struct {
	mu         sync.Mutex
	states     map[string]queue.State
	reasons    map[string]string
	waiting    int
	enqueueErr error
	stateErr   error
	enqueued   []int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{states: map[string]queue.State{}, reasons: map[string]string{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, jobID int64, _ queue.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	id := queue.JobKey(jobID)
	f.states[id] = queue.StateWaiting
	f.enqueued = append(f.enqueued, jobID)
	return id, nil
}

func (f *fakeQueue) State(_ context.Context, id string) (queue.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return queue.StateUnknown, f.stateErr
	}
	s, ok := f.states[id]
	if !ok {
		return queue.StateUnknown, nil
	}
	return s, nil
}

func (f *fakeQueue) WaitingCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting, nil
}

func (f *fakeQueue) FailureReason(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reasons[id], nil
}

func (f *fakeQueue) set(id string, s queue.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = s
}

func (f *fakeQueue) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, id)
}

// --- helpers ---

func newService(s jobs.JobStore, q queue.Queue) *jobs.Service {
	return jobs.NewService(s, q, jobs.Options{
		BaseURL: "http://host",
		Queue:   queue.DefaultOptions(),
		Logger:  slog.Default(),
	})
}

func seedUpload(t *testing.T, s *store.MemoryStore, userID int64, path string) *models.Upload {
	t.Helper()
	u := &models.Upload{UserID: userID, Type: "audio/wav", FileName: "x.wav", FilePath: path}
	require.NoError(t, s.CreateUpload(context.Background(), u))
	return u
}

// --- RequestTransformation ---

func TestRequestTransformation_QueuesJob(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")

	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{
		RequestID: "req-1", UserID: 1, UploadID: u.ID, VoiceID: 72, Pitch: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, queue.JobKey(sub.JobID), sub.QueueJobID)
	assert.Equal(t, "/api/v1/inference/status/1", sub.StatusCheckPath)

	got, err := s.GetJob(context.Background(), sub.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	require.NotNil(t, got.QueueJobID)
	assert.Equal(t, sub.QueueJobID, *got.QueueJobID)
	assert.Equal(t, "u/10.wav", got.OriginalPath)
	assert.Equal(t, int64(72), got.VoiceID)
}

func TestRequestTransformation_UploadNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")

	// owned by someone else
	_, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 2, UploadID: u.ID, VoiceID: 1})
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	_, err = svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: 999, VoiceID: 1})
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	stale, err := s.ListStalePendingJobs(context.Background(), time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, stale, "no job may be created")
	assert.Empty(t, q.enqueued)
}

func TestRequestTransformation_InvalidUploadID(t *testing.T) {
	svc := newService(store.NewMemoryStore(), newFakeQueue())

	_, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: 0})
	var ve *jobs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "fileId", ve.Field)
}

func TestRequestTransformation_EnqueueFailureLeavesPending(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	q.enqueueErr = queue.ErrUnavailable
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")

	_, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	var ie *jobs.InternalError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "failed to initiate job", ie.Msg)
	assert.ErrorIs(t, err, queue.ErrUnavailable)

	got, err := s.GetJob(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.QueueJobID)
}

// createFailStore fails every job insert.
type createFailStore struct{ *store.MemoryStore }

func (createFailStore) CreateJob(context.Context, *models.InferenceJob) error {
	return errors.New("disk full")
}

func TestRequestTransformation_CreateFailureSkipsQueue(t *testing.T) {
	s := createFailStore{store.NewMemoryStore()}
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s.MemoryStore, 1, "u/10.wav")

	_, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	var ie *jobs.InternalError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "failed to create job", ie.Msg)
	assert.Empty(t, q.enqueued)
}

// racingStore lets a worker claim the job before the queued write lands.
type racingStore struct{ *store.MemoryStore }

func (r racingStore) SaveJobIf(ctx context.Context, job *models.InferenceJob, expected models.JobStatus) error {
	if job.Status == models.JobStatusQueued {
		claim := job.Clone()
		claim.MarkProcessing(time.Now())
		_ = r.MemoryStore.SaveJob(ctx, claim)
	}
	return r.MemoryStore.SaveJobIf(ctx, job, expected)
}

func TestRequestTransformation_LateQueuedWriteDoesNotRegress(t *testing.T) {
	s := racingStore{store.NewMemoryStore()}
	svc := newService(s, newFakeQueue())
	u := seedUpload(t, s.MemoryStore, 1, "u/10.wav")

	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err, "the request succeeds once the queue has the entry")

	got, err := s.GetJob(context.Background(), sub.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

// --- GetStatus ---

func TestGetStatus_NotFound(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newService(s, newFakeQueue())
	u := seedUpload(t, s, 1, "u/10.wav")
	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 2})
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: 999, UserID: 1})
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestGetStatus_WaitingIncludesCount(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	q.waiting = 4
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")
	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err)

	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, view.Status)
	assert.Equal(t, queue.StateWaiting, view.QueueState)
	require.NotNil(t, view.WaitingCount)
	assert.Equal(t, 4, *view.WaitingCount)
	assert.Nil(t, view.Result)

	q.set(sub.QueueJobID, queue.StateActive)
	view, err = svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Nil(t, view.WaitingCount, "count only reported while waiting")
}

func TestGetStatus_QueueErrorFallsBackToStored(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")
	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err)

	q.stateErr = queue.ErrUnavailable
	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, view.Status)
	assert.Equal(t, queue.StateUnknown, view.QueueState)
}

func TestGetStatus_FailedUsesQueueReason(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")
	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err)

	q.set(sub.QueueJobID, queue.StateFailed)
	q.reasons[sub.QueueJobID] = "voice model crashed"

	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, view.Status)
	require.NotNil(t, view.ErrorMessage)
	assert.Equal(t, "voice model crashed", *view.ErrorMessage)
	assert.NotNil(t, view.ProcessingFinishedAt)

	stored, err := s.GetJob(context.Background(), sub.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}

func TestGetStatus_BackfillsDerivedQueueKey(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")

	// pending job whose queued write was lost
	j := &models.InferenceJob{UserID: 1, UploadID: &u.ID, VoiceID: 1, OriginalPath: u.FilePath}
	require.NoError(t, s.CreateJob(context.Background(), j))
	q.set(queue.JobKey(j.ID), queue.StateDelayed)

	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: j.ID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, view.Status)
	require.NotNil(t, view.QueueJobID)
	assert.Equal(t, queue.JobKey(j.ID), *view.QueueJobID)

	stored, err := s.GetJob(context.Background(), j.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.QueueJobID)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestGetStatus_UnknownPendingStaysPending(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newService(s, newFakeQueue())
	u := seedUpload(t, s, 1, "u/10.wav")

	j := &models.InferenceJob{UserID: 1, UploadID: &u.ID, VoiceID: 1}
	require.NoError(t, s.CreateJob(context.Background(), j))

	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: j.ID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, view.Status)
	assert.Nil(t, view.QueueJobID)
}

func TestGetStatus_CompletedWithoutPathHasNoResult(t *testing.T) {
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")
	sub, err := svc.RequestTransformation(context.Background(), jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 1})
	require.NoError(t, err)

	q.set(sub.QueueJobID, queue.StateCompleted)
	view, err := svc.GetStatus(context.Background(), jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, view.Status)
	assert.Nil(t, view.Result)
}

// End to end: submit, observe active, let the worker finish, observe the result.
func TestLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := newFakeQueue()
	svc := newService(s, q)
	u := seedUpload(t, s, 1, "u/10.wav")

	sub, err := svc.RequestTransformation(ctx, jobs.TransformRequest{UserID: 1, UploadID: u.ID, VoiceID: 72, Pitch: 0})
	require.NoError(t, err)
	assert.Equal(t, "inference-1", sub.QueueJobID)

	stored, err := s.GetJob(ctx, sub.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	q.set(sub.QueueJobID, queue.StateActive)
	view, err := svc.GetStatus(ctx, jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, view.Status)
	assert.Equal(t, queue.StateActive, view.QueueState)

	stored, err = s.GetJob(ctx, sub.JobID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, stored.Status)

	w := worker.New(s, mock.NewMockConverter(), slog.Default())
	require.NoError(t, w.Process(ctx, sub.JobID))
	q.remove(sub.QueueJobID)

	view, err = svc.GetStatus(ctx, jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, view.Status)
	assert.Equal(t, queue.StateUnknown, view.QueueState)
	require.NotNil(t, view.Result)
	assert.Equal(t, "http://host/u/converted_10.wav", view.Result.PreviewURL)
	assert.Equal(t, "u/converted_10.wav", view.Result.ConvertedPath)
	assert.Equal(t, sub.JobID, view.Result.JobID)

	// the completed record is absorbing
	q.set(sub.QueueJobID, queue.StateFailed)
	view, err = svc.GetStatus(ctx, jobs.StatusQuery{JobID: sub.JobID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, view.Status)
}

func TestPreviewURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://host", "audio/7/converted_x.wav", "http://host/audio/7/converted_x.wav"},
		{"http://host/", "/audio/7/converted_x.wav", "http://host/audio/7/converted_x.wav"},
		{"http://host", `audio\7\converted_x.wav`, "http://host/audio/7/converted_x.wav"},
		{"https://cdn.example.com/base/", "x.wav", "https://cdn.example.com/base/x.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, jobs.PreviewURL(tt.base, tt.path))
		})
	}
}
