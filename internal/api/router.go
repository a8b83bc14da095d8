package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "sam3dserve/internal/api/middleware"
	"sam3dserve/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	GenerateHandler     http.HandlerFunc
	GenerateSyncHandler http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	JobDownloadHandler  http.HandlerFunc
	JobCancelHandler    http.HandlerFunc
	QueueStatsHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil && deps.Auth.Enabled() {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/generate", orNotImplemented(deps.GenerateHandler))
		r.Post("/api/v1/generate/sync", orNotImplemented(deps.GenerateSyncHandler))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Get("/api/v1/jobs/{jobID}/download", orNotImplemented(deps.JobDownloadHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobCancelHandler))

		r.Get("/api/v1/queue", orNotImplemented(deps.QueueStatsHandler))
	})

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
