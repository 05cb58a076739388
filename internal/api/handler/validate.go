package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/wavedeck/internal/api/response"
	"github.com/kiranshivaraju/wavedeck/internal/jobs"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 64 << 10

// inferenceBody is the POST /api/v1/inference payload. Pointers distinguish
// a missing field from a zero value.
type inferenceBody struct {
	UserID  *int64 `json:"userId"`
	FileID  *int64 `json:"fileId"`
	VoiceID *int64 `json:"voiceId"`
	Pitch   *int   `json:"pitch"`
}

// deleteUploadBody is the DELETE /api/v1/upload/audio/{id} payload.
type deleteUploadBody struct {
	UserID *int64 `json:"userId"`
}

// decodeJSON decodes the size-capped request body into v. On failure it
// writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
				"Request body exceeds the size limit", nil)
			return false
		}
		writeValidation(w, &jobs.ValidationError{Field: "body", Message: "Invalid JSON body"})
		return false
	}
	return true
}

func validateInference(b inferenceBody) (jobs.TransformRequest, *jobs.ValidationError) {
	if b.UserID == nil {
		return jobs.TransformRequest{}, &jobs.ValidationError{Field: "userId", Message: "userId is required"}
	}
	if *b.UserID < 1 {
		return jobs.TransformRequest{}, &jobs.ValidationError{Field: "userId", Message: "userId must be a positive integer"}
	}
	if b.FileID == nil {
		return jobs.TransformRequest{}, &jobs.ValidationError{Field: "fileId", Message: "fileId is required"}
	}
	if *b.FileID < 1 {
		return jobs.TransformRequest{}, &jobs.ValidationError{Field: "fileId", Message: "fileId must be at least 1"}
	}
	if b.VoiceID == nil {
		return jobs.TransformRequest{}, &jobs.ValidationError{Field: "voiceId", Message: "voiceId is required"}
	}

	pitch := 0
	if b.Pitch != nil {
		pitch = *b.Pitch
	}
	return jobs.TransformRequest{
		UserID:   *b.UserID,
		UploadID: *b.FileID,
		VoiceID:  *b.VoiceID,
		Pitch:    pitch,
	}, nil
}

// parseID parses a positive integer path parameter.
func parseID(raw, field string) (int64, *jobs.ValidationError) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, &jobs.ValidationError{Field: field, Message: fmt.Sprintf("%s must be a positive integer", field)}
	}
	return id, nil
}

// parseOptionalInt parses a multipart form value, treating "" as zero.
func parseOptionalInt(raw, field string) (int64, *jobs.ValidationError) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, &jobs.ValidationError{Field: field, Message: fmt.Sprintf("%s must be a non-negative integer", field)}
	}
	return n, nil
}
