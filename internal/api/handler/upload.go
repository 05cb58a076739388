package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/wavedeck/internal/api/middleware"
	"github.com/kiranshivaraju/wavedeck/internal/api/response"
	"github.com/kiranshivaraju/wavedeck/internal/upload"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
)

// Uploader defines the upload operations the handlers depend on.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*models.Upload, error)
	Delete(ctx context.Context, id, userID int64) error
}

// multipart overhead allowed on top of the file limit
const formOverhead = 1 << 20

type uploadResponse struct {
	FileID         int64     `json:"fileId"`
	FilePreviewURL string    `json:"filePreviewUrl"`
	UploadTime     time.Time `json:"uploadTime"`
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/upload/audio.
// Files larger than maxBytes are rejected with 413.
func NewUploadHandler(svc Uploader, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
					"File exceeds the upload size limit", nil)
				return
			}
			response.Invalid(w, "file", "file is required")
			return
		}
		defer file.Close()

		userID, verr := parseID(r.FormValue("userId"), "userId")
		if verr != nil {
			writeValidation(w, verr)
			return
		}
		duration, verr := parseOptionalInt(r.FormValue("duration"), "duration")
		if verr != nil {
			writeValidation(w, verr)
			return
		}
		name := r.FormValue("fileName")
		if name == "" {
			name = header.Filename
		}

		u, err := svc.Upload(r.Context(), upload.Request{
			RequestID:   mw.GetRequestID(r),
			UserID:      userID,
			FileName:    name,
			ContentType: header.Header.Get("Content-Type"),
			Duration:    duration,
			Body:        file,
		})
		if err != nil {
			switch {
			case errors.Is(err, upload.ErrTooLarge):
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
					"File exceeds the upload size limit", nil)
			case errors.Is(err, upload.ErrUnsupportedType):
				response.Error(w, http.StatusUnsupportedMediaType, response.CodeUnsupportedMedia,
					"Only audio files are accepted", nil)
			default:
				slog.Error("upload failed", "request_id", mw.GetRequestID(r), "error", err)
				response.Internal(w, "")
			}
			return
		}

		response.Created(w, uploadResponse{
			FileID:         u.ID,
			FilePreviewURL: u.FilePreviewURL,
			UploadTime:     u.UploadedAt,
		})
	}
}

// NewDeleteUploadHandler returns an http.HandlerFunc for DELETE /api/v1/upload/audio/{id}.
func NewDeleteUploadHandler(svc Uploader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, verr := parseID(chi.URLParam(r, "id"), "id")
		if verr != nil {
			writeValidation(w, verr)
			return
		}
		var body deleteUploadBody
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.UserID == nil || *body.UserID < 1 {
			response.Invalid(w, "userId", "userId must be a positive integer")
			return
		}

		if err := svc.Delete(r.Context(), id, *body.UserID); err != nil {
			if errors.Is(err, upload.ErrNotFound) {
				response.NotFound(w, "Upload not found")
				return
			}
			slog.Error("delete upload failed", "request_id", mw.GetRequestID(r), "upload_id", id, "error", err)
			response.Internal(w, "")
			return
		}
		response.JSON(w, map[string]string{"message": "Upload deleted"})
	}
}
