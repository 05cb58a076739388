// Package upload accepts audio files from users and tracks them as uploads
// that inference jobs can reference.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/wavedeck/internal/blob"
	"github.com/kiranshivaraju/wavedeck/internal/store"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

var (
	ErrNotFound        = errors.New("upload not found")
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported media type")
)

// AllowedTypes are the accepted audio mime types.
var AllowedTypes = map[string]bool{
	"audio/wave":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/ogg":   true,
}

// UploadStore is the slice of store.Store this package needs.
type UploadStore interface {
	CreateUpload(ctx context.Context, upload *models.Upload) error
	DeleteUpload(ctx context.Context, id, userID int64) (*models.Upload, error)
}

// Request is one incoming file.
type Request struct {
	RequestID   string
	UserID      int64
	FileName    string
	ContentType string
	// Duration of the recording in milliseconds, as reported by the client.
	Duration int64
	Body     io.Reader
}

type Service struct {
	store    UploadStore
	blobs    blob.Store
	maxBytes int64
	logger   *slog.Logger
}

func NewService(s UploadStore, b blob.Store, maxBytes int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, blobs: b, maxBytes: maxBytes, logger: logger}
}

// Upload stores the file and records it. The preview URL is the site-relative
// path the static file route serves it from.
func (s *Service) Upload(ctx context.Context, req Request) (*models.Upload, error) {
	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil || !AllowedTypes[strings.ToLower(mediaType)] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, req.ContentType)
	}

	key := blob.NewKey(req.UserID, filepath.Ext(req.FileName))
	size, err := s.blobs.Save(ctx, key, req.Body, s.maxBytes)
	if errors.Is(err, blob.ErrTooLarge) {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	u := &models.Upload{
		UserID:         req.UserID,
		Type:           strings.ToLower(mediaType),
		FileName:       req.FileName,
		FileSize:       size,
		Duration:       req.Duration,
		FilePath:       key,
		FilePreviewURL: "/" + key,
	}
	if err := s.store.CreateUpload(ctx, u); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("orphaned blob after failed upload record", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("record upload: %w", err)
	}

	s.logger.Info("upload stored", "request_id", req.RequestID, "upload_id", u.ID, "user_id", u.UserID, "file_size", size)
	return u, nil
}

// Delete removes the upload record, then its file. Jobs that referenced the
// upload keep their own copy of the path. A missing file is not an error.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	u, err := s.store.DeleteUpload(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete upload %d: %w", id, err)
	}

	if err := s.blobs.Delete(ctx, u.FilePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("upload file not removed", "upload_id", id, "key", u.FilePath, "error", err)
	}
	return nil
}
