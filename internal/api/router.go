package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/wavedeck/internal/api/middleware"
	"github.com/kiranshivaraju/wavedeck/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit
	User      *mw.User

	HealthHandler       http.HandlerFunc
	SubmitInference     http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	UploadHandler       http.HandlerFunc
	DeleteUploadHandler http.HandlerFunc

	// UploadDir is served read-only under /audio/. Empty disables the route.
	UploadDir string
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		if deps.User != nil {
			r.Use(deps.User.Resolve)
		}

		r.Post("/api/v1/inference", orNotImplemented(deps.SubmitInference))
		r.Get("/api/v1/inference/status/{jobId}", orNotImplemented(deps.JobStatusHandler))

		r.Post("/api/v1/upload/audio", orNotImplemented(deps.UploadHandler))
		r.Delete("/api/v1/upload/audio/{id}", orNotImplemented(deps.DeleteUploadHandler))
	})

	if deps.UploadDir != "" {
		// blob keys start with audio/, so the prefix is kept
		r.Handle("/audio/*", http.FileServer(http.Dir(deps.UploadDir)))
	}

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
