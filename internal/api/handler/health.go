package handler

import (
	"net/http"

	"sam3dserve/internal/api/response"
	"sam3dserve/internal/cache"
	"sam3dserve/internal/queue"
	"sam3dserve/pkg/models"
)

// QueueInfo is the queue surface the health and stats endpoints depend on.
type QueueInfo interface {
	Stats() queue.Stats
	Generation() int
}

// NewHealthHandler reports process health: whether the model backend is
// loaded, queue occupancy, and cache reachability. Always returns 200; the
// flags tell the probe what is actually usable.
func NewHealthHandler(q QueueInfo, provider models.InferenceProvider, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modelLoaded := provider.Ready(r.Context()) == nil

		cacheState := "disabled"
		if ca != nil {
			cacheState = "ok"
			if err := ca.Ping(r.Context()); err != nil {
				cacheState = "degraded"
			}
		}

		response.JSON(w, map[string]any{
			"status":            "ok",
			"model_loaded":      modelLoaded,
			"provider":          provider.Name(),
			"worker_generation": q.Generation(),
			"queue":             q.Stats(),
			"cache":             cacheState,
		})
	}
}

// NewQueueStatsHandler returns an http.HandlerFunc for GET /api/v1/queue.
func NewQueueStatsHandler(q QueueInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, q.Stats())
	}
}
