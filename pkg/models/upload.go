package models

import "time"

// Upload is a stored audio file owned by a user. FilePath is the blob key
// (relative, forward slashes) that processing treats as an opaque input location.
type Upload struct {
	ID             int64     `db:"id"               json:"id"`
	UserID         int64     `db:"user_id"          json:"userId"`
	Type           string    `db:"type"             json:"type"`
	FileName       string    `db:"file_name"        json:"fileName"`
	FileSize       int64     `db:"file_size"        json:"fileSize"`
	Duration       int64     `db:"duration"         json:"duration"`
	FilePath       string    `db:"file_path"        json:"filePath"`
	FilePreviewURL string    `db:"file_preview_url" json:"filePreviewUrl"`
	UploadedAt     time.Time `db:"uploaded_at"      json:"uploadTime"`
}
