package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/wavedeck/internal/api/middleware"
	"github.com/kiranshivaraju/wavedeck/internal/api/response"
	"github.com/kiranshivaraju/wavedeck/internal/jobs"
)

// Inferencer defines the job lifecycle operations the handlers depend on.
type Inferencer interface {
	RequestTransformation(ctx context.Context, req jobs.TransformRequest) (*jobs.Submission, error)
	GetStatus(ctx context.Context, q jobs.StatusQuery) (*jobs.StatusView, error)
}

// NewSubmitInferenceHandler returns an http.HandlerFunc for POST /api/v1/inference.
func NewSubmitInferenceHandler(svc Inferencer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body inferenceBody
		if !decodeJSON(w, r, &body) {
			return
		}
		req, verr := validateInference(body)
		if verr != nil {
			writeValidation(w, verr)
			return
		}
		req.RequestID = mw.GetRequestID(r)

		sub, err := svc.RequestTransformation(r.Context(), req)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Accepted(w, sub)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/inference/status/{jobId}.
func NewJobStatusHandler(svc Inferencer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, verr := parseID(chi.URLParam(r, "jobId"), "jobId")
		if verr != nil {
			writeValidation(w, verr)
			return
		}
		userID, _ := mw.GetUserID(r)

		view, err := svc.GetStatus(r.Context(), jobs.StatusQuery{
			RequestID: mw.GetRequestID(r),
			JobID:     jobID,
			UserID:    userID,
		})
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

func writeValidation(w http.ResponseWriter, verr *jobs.ValidationError) {
	response.Invalid(w, verr.Field, verr.Message)
}

// writeJobError maps lifecycle service errors onto HTTP responses.
func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *jobs.ValidationError
	var ierr *jobs.InternalError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case errors.Is(err, jobs.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.As(err, &ierr):
		slog.Error("inference request failed", "request_id", mw.GetRequestID(r), "error", err)
		response.Internal(w, ierr.Msg)
	default:
		slog.Error("inference request failed", "request_id", mw.GetRequestID(r), "error", err)
		response.Internal(w, "")
	}
}
