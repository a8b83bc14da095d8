package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sam3dserve/internal/api/response"
	"sam3dserve/internal/queue"
	"sam3dserve/pkg/models"
)

// Submitter is the queue surface the async generate handler depends on.
type Submitter interface {
	Submit(params models.GenerateParams) (uuid.UUID, error)
	Status(id uuid.UUID) (queue.JobView, error)
}

// SyncGenerator is the queue surface the synchronous handler depends on.
type SyncGenerator interface {
	SubmitAndWait(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error)
}

type generateRequest struct {
	Image          string   `json:"image"`
	ImageURL       string   `json:"image_url"`
	Seed           *int     `json:"seed"`
	OutputFormat   string   `json:"output_format"`
	WithTexture    *bool    `json:"with_texture"`
	TextureSize    *int     `json:"texture_size"`
	Simplify       *float64 `json:"simplify"`
	InferenceSteps *int     `json:"inference_steps"`
	NViews         *int     `json:"nviews"`
}

// resolveParams fills unset knobs with the pipeline defaults. Range
// validation happens in the queue.
func resolveParams(req generateRequest) models.GenerateParams {
	p := models.GenerateParams{
		ImageData:      req.Image,
		ImageURL:       req.ImageURL,
		Seed:           models.DefaultSeed,
		OutputFormat:   models.FormatGLB,
		WithTexture:    true,
		TextureSize:    models.DefaultTextureSize,
		Simplify:       models.DefaultSimplify,
		InferenceSteps: models.DefaultInferenceSteps,
		NViews:         models.DefaultNViews,
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
	}
	if req.OutputFormat != "" {
		p.OutputFormat = req.OutputFormat
	}
	if req.WithTexture != nil {
		p.WithTexture = *req.WithTexture
	}
	if req.TextureSize != nil {
		p.TextureSize = *req.TextureSize
	}
	if req.Simplify != nil {
		p.Simplify = *req.Simplify
	}
	if req.InferenceSteps != nil {
		p.InferenceSteps = *req.InferenceSteps
	}
	if req.NViews != nil {
		p.NViews = *req.NViews
	}
	return p
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/generate.
// The job is enqueued and the client polls the job endpoint for progress.
func NewGenerateHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		id, err := svc.Submit(resolveParams(req))
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		position := 0
		if view, err := svc.Status(id); err == nil {
			position = view.Position
		}

		response.Accepted(w, map[string]any{
			"job_id":   id,
			"status":   models.JobStatusQueued,
			"position": position,
		})
	}
}

// NewGenerateSyncHandler returns an http.HandlerFunc for
// POST /api/v1/generate/sync: submit, block until the job finishes, and
// stream the artifact back. With a deep queue this ties up a connection for
// minutes; the async endpoint is the recommended path.
func NewGenerateSyncHandler(svc SyncGenerator, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.SubmitAndWait(r.Context(), resolveParams(req), timeout)
		if err != nil {
			var genErr *queue.GenerationError
			var waitErr *queue.WaitTimeoutError
			switch {
			case errors.As(err, &genErr):
				response.Error(w, http.StatusBadGateway, "GENERATION_FAILED",
					genErr.Reason, map[string]any{"job_id": genErr.JobID})
			case errors.As(err, &waitErr):
				response.Error(w, http.StatusGatewayTimeout, "WAIT_TIMEOUT",
					"Generation did not finish in time; poll the job endpoint instead",
					map[string]any{"job_id": waitErr.JobID})
			case errors.Is(err, context.Canceled):
				// Client went away; nothing useful to write.
			default:
				writeSubmitError(w, err)
			}
			return
		}

		if wantsJSON(r) {
			response.JSON(w, map[string]any{
				"job_id":          result.JobID,
				"model":           base64.StdEncoding.EncodeToString(result.Data),
				"format":          result.Format,
				"vertices":        result.Vertices,
				"faces":           result.Faces,
				"processing_time": result.ElapsedSecs,
			})
			return
		}

		writeArtifact(w, result.Data, result.Format)
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var valErr *queue.ValidationError
	switch {
	case errors.As(err, &valErr):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", valErr.Msg, nil)
	case errors.Is(err, queue.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusTooManyRequests, "QUEUE_FULL",
			"The generation queue is full, retry later", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// writeArtifact streams artifact bytes with the content type of the output
// encoding.
func writeArtifact(w http.ResponseWriter, data []byte, format string) {
	contentType := "application/octet-stream"
	if format == models.FormatGLB {
		contentType = "model/gltf-binary"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=model.%s", format))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
