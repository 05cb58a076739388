// Package models contains shared data models used across the wavedeck codebase.
package models

import "time"

// JobStatus is the durable lifecycle state of an inference job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

// Terminal reports whether no further worker transition is expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range JobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// InferenceJob is one durable request to transform an uploaded audio file.
// UploadID is a weak reference: deleting the upload sets it to nil and the job survives.
type InferenceJob struct {
	ID                   int64      `db:"id"                     json:"id"`
	UserID               int64      `db:"user_id"                json:"userId"`
	UploadID             *int64     `db:"upload_id"              json:"uploadId,omitempty"`
	Status               JobStatus  `db:"status"                 json:"status"`
	VoiceID              int64      `db:"voice_id"               json:"voiceId"`
	Pitch                int        `db:"pitch"                  json:"pitch"`
	OriginalPath         string     `db:"original_path"          json:"originalPath"`
	ConvertedPath        *string    `db:"converted_path"         json:"convertedPath,omitempty"`
	ConvertedFileSize    *int64     `db:"converted_file_size"    json:"convertedFileSize,omitempty"`
	QueueJobID           *string    `db:"queue_job_id"           json:"queueJobId,omitempty"`
	ErrorMessage         *string    `db:"error_message"          json:"errorMessage,omitempty"`
	CreatedAt            time.Time  `db:"created_at"             json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at"             json:"updatedAt"`
	ProcessingStartedAt  *time.Time `db:"processing_started_at"  json:"processingStartedAt,omitempty"`
	ProcessingFinishedAt *time.Time `db:"processing_finished_at" json:"processingFinishedAt,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing pointer fields.
func (j *InferenceJob) Clone() *InferenceJob {
	c := *j
	c.UploadID = clonePtr(j.UploadID)
	c.ConvertedPath = clonePtr(j.ConvertedPath)
	c.ConvertedFileSize = clonePtr(j.ConvertedFileSize)
	c.QueueJobID = clonePtr(j.QueueJobID)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.ProcessingStartedAt = clonePtr(j.ProcessingStartedAt)
	c.ProcessingFinishedAt = clonePtr(j.ProcessingFinishedAt)
	return &c
}

// MarkQueued moves the job back to (or into) the queued state.
func (j *InferenceJob) MarkQueued() {
	j.Status = JobStatusQueued
	j.ErrorMessage = nil
	j.clearResult()
	j.ProcessingFinishedAt = nil
}

// MarkProcessing starts a new processing attempt.
func (j *InferenceJob) MarkProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.ProcessingStartedAt = &now
	j.ProcessingFinishedAt = nil
	j.ErrorMessage = nil
	j.clearResult()
}

// MarkCompleted records a successful conversion.
func (j *InferenceJob) MarkCompleted(convertedPath string, size int64, now time.Time) {
	j.Status = JobStatusCompleted
	j.ConvertedPath = &convertedPath
	j.ConvertedFileSize = &size
	j.ProcessingFinishedAt = &now
	j.ErrorMessage = nil
}

// MarkFailed records a failed attempt.
func (j *InferenceJob) MarkFailed(msg string, now time.Time) {
	j.Status = JobStatusFailed
	j.ErrorMessage = &msg
	j.ProcessingFinishedAt = &now
	j.clearResult()
}

func (j *InferenceJob) clearResult() {
	j.ConvertedPath = nil
	j.ConvertedFileSize = nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
