package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sam3dserve/internal/api/response"
	"sam3dserve/internal/queue"
)

// JobService is the queue surface the job endpoints depend on.
type JobService interface {
	Status(id uuid.UUID) (queue.JobView, error)
	Download(id uuid.UUID) (data []byte, format string, err error)
	Cancel(id uuid.UUID) error
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Job id must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		view, err := svc.Status(id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, view)
	}
}

// NewJobDownloadHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/download. Downloads are repeatable within the
// retention window; afterwards the artifact is gone even though the job
// record may still report completed.
func NewJobDownloadHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		data, format, err := svc.Download(id)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrNotReady):
				response.Error(w, http.StatusConflict, "JOB_NOT_READY",
					"Job has not completed; poll its status first", nil)
			case errors.Is(err, queue.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND",
					"Unknown job id or artifact past its retention window", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		writeArtifact(w, data, format)
	}
}

// NewJobCancelHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs/{jobID}. Only still-queued jobs can be removed; a
// processing job runs to completion because the model invocation cannot be
// interrupted.
func NewJobCancelHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		if err := svc.Cancel(id); err != nil {
			switch {
			case errors.Is(err, queue.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job id", nil)
			case errors.Is(err, queue.ErrNotCancelable):
				response.Error(w, http.StatusConflict, "JOB_NOT_CANCELABLE",
					"Job already started or finished", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]any{"job_id": id, "canceled": true})
	}
}
