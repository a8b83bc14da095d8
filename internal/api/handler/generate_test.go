package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"sam3dserve/internal/api/handler"
	"sam3dserve/internal/queue"
	"sam3dserve/pkg/models"
)

// mockQueue implements the handler service interfaces with overridable
// functions.
type mockQueue struct {
	submitFn        func(params models.GenerateParams) (uuid.UUID, error)
	submitAndWaitFn func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error)
	statusFn        func(id uuid.UUID) (queue.JobView, error)
	downloadFn      func(id uuid.UUID) ([]byte, string, error)
	cancelFn        func(id uuid.UUID) error
}

func (m *mockQueue) Submit(params models.GenerateParams) (uuid.UUID, error) {
	return m.submitFn(params)
}

func (m *mockQueue) SubmitAndWait(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
	return m.submitAndWaitFn(ctx, params, timeout)
}

func (m *mockQueue) Status(id uuid.UUID) (queue.JobView, error) {
	return m.statusFn(id)
}

func (m *mockQueue) Download(id uuid.UUID) ([]byte, string, error) {
	return m.downloadFn(id)
}

func (m *mockQueue) Cancel(id uuid.UUID) error {
	return m.cancelFn(id)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func generateBody(t *testing.T, overrides map[string]any) *bytes.Reader {
	t.Helper()
	body := map[string]any{
		"image": base64.StdEncoding.EncodeToString([]byte("fake-image")),
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body: %v", err)
	}
	return bytes.NewReader(raw)
}

func TestGenerateHandler_Accepted(t *testing.T) {
	jobID := uuid.New()
	svc := &mockQueue{
		submitFn: func(params models.GenerateParams) (uuid.UUID, error) {
			if params.OutputFormat != models.FormatGLB {
				t.Errorf("expected default format glb, got %q", params.OutputFormat)
			}
			if params.Seed != models.DefaultSeed {
				t.Errorf("expected default seed %d, got %d", models.DefaultSeed, params.Seed)
			}
			return jobID, nil
		},
		statusFn: func(id uuid.UUID) (queue.JobView, error) {
			return queue.JobView{JobID: id, Status: models.JobStatusQueued, Position: 2}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateHandler(svc)(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	var data struct {
		JobID    uuid.UUID `json:"job_id"`
		Status   string    `json:"status"`
		Position int       `json:"position"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data.JobID != jobID {
		t.Errorf("expected job id %s, got %s", jobID, data.JobID)
	}
	if data.Status != models.JobStatusQueued {
		t.Errorf("expected status queued, got %q", data.Status)
	}
	if data.Position != 2 {
		t.Errorf("expected position 2, got %d", data.Position)
	}
}

func TestGenerateHandler_OverridesApplied(t *testing.T) {
	var got models.GenerateParams
	svc := &mockQueue{
		submitFn: func(params models.GenerateParams) (uuid.UUID, error) {
			got = params
			return uuid.New(), nil
		},
		statusFn: func(id uuid.UUID) (queue.JobView, error) {
			return queue.JobView{}, nil
		},
	}

	body := generateBody(t, map[string]any{
		"seed":          7,
		"output_format": "ply",
		"with_texture":  false,
		"texture_size":  512,
		"simplify":      0.9,
		"nviews":        100,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", body)
	rec := httptest.NewRecorder()
	handler.NewGenerateHandler(svc)(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	if got.Seed != 7 || got.OutputFormat != models.FormatPLY || got.WithTexture ||
		got.TextureSize != 512 || got.Simplify != 0.9 || got.NViews != 100 {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.InferenceSteps != models.DefaultInferenceSteps {
		t.Errorf("unset knob should keep default, got %d", got.InferenceSteps)
	}
}

func TestGenerateHandler_InvalidJSON(t *testing.T) {
	svc := &mockQueue{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.NewGenerateHandler(svc)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "INVALID_REQUEST" {
		t.Errorf("expected INVALID_REQUEST error, got %+v", env.Error)
	}
}

func TestGenerateHandler_ValidationError(t *testing.T) {
	svc := &mockQueue{
		submitFn: func(params models.GenerateParams) (uuid.UUID, error) {
			return uuid.Nil, &queue.ValidationError{Msg: "texture_size must be between 256 and 4096"}
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", generateBody(t, map[string]any{"texture_size": 9999}))
	rec := httptest.NewRecorder()
	handler.NewGenerateHandler(svc)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST error, got %+v", env.Error)
	}
	if !strings.Contains(env.Error.Message, "texture_size") {
		t.Errorf("expected validation message to surface, got %q", env.Error.Message)
	}
}

func TestGenerateHandler_QueueFull(t *testing.T) {
	svc := &mockQueue{
		submitFn: func(params models.GenerateParams) (uuid.UUID, error) {
			return uuid.Nil, queue.ErrQueueFull
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateHandler(svc)(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "QUEUE_FULL" {
		t.Errorf("expected QUEUE_FULL error, got %+v", env.Error)
	}
}

func TestGenerateSyncHandler_BinarySuccess(t *testing.T) {
	modelBytes := []byte("glTF\x02\x00\x00\x00mesh")
	svc := &mockQueue{
		submitAndWaitFn: func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
			return &queue.SyncResult{
				JobID:       uuid.New(),
				Data:        modelBytes,
				Format:      models.FormatGLB,
				Vertices:    8,
				Faces:       12,
				ElapsedSecs: 1.5,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/sync", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateSyncHandler(svc, time.Minute)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "model/gltf-binary" {
		t.Errorf("expected model/gltf-binary, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "model.glb") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), modelBytes) {
		t.Error("body does not match artifact bytes")
	}
}

func TestGenerateSyncHandler_JSONSuccess(t *testing.T) {
	modelBytes := []byte("ply-bytes")
	svc := &mockQueue{
		submitAndWaitFn: func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
			return &queue.SyncResult{
				JobID:       uuid.New(),
				Data:        modelBytes,
				Format:      models.FormatPLY,
				Vertices:    4,
				Faces:       2,
				ElapsedSecs: 0.7,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/sync", generateBody(t, nil))
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.NewGenerateSyncHandler(svc, time.Minute)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var data struct {
		Model          string  `json:"model"`
		Format         string  `json:"format"`
		Vertices       int     `json:"vertices"`
		Faces          int     `json:"faces"`
		ProcessingTime float64 `json:"processing_time"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(data.Model)
	if err != nil {
		t.Fatalf("model field is not base64: %v", err)
	}
	if !bytes.Equal(decoded, modelBytes) {
		t.Error("decoded model does not match artifact bytes")
	}
	if data.Format != models.FormatPLY || data.Vertices != 4 || data.Faces != 2 {
		t.Errorf("unexpected metadata: %+v", data)
	}
}

func TestGenerateSyncHandler_GenerationFailure(t *testing.T) {
	jobID := uuid.New()
	svc := &mockQueue{
		submitAndWaitFn: func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
			return nil, &queue.GenerationError{JobID: jobID, Reason: "CUDA out of memory"}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/sync", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateSyncHandler(svc, time.Minute)(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "GENERATION_FAILED" {
		t.Fatalf("expected GENERATION_FAILED error, got %+v", env.Error)
	}
	if env.Error.Details["job_id"] != jobID.String() {
		t.Errorf("expected job_id detail %s, got %v", jobID, env.Error.Details["job_id"])
	}
}

func TestGenerateSyncHandler_WaitTimeout(t *testing.T) {
	jobID := uuid.New()
	svc := &mockQueue{
		submitAndWaitFn: func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
			return nil, &queue.WaitTimeoutError{JobID: jobID}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/sync", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateSyncHandler(svc, time.Minute)(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "WAIT_TIMEOUT" {
		t.Fatalf("expected WAIT_TIMEOUT error, got %+v", env.Error)
	}
	if env.Error.Details["job_id"] != jobID.String() {
		t.Errorf("expected job_id detail so the client can keep polling, got %v", env.Error.Details)
	}
}

func TestGenerateSyncHandler_QueueFull(t *testing.T) {
	svc := &mockQueue{
		submitAndWaitFn: func(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*queue.SyncResult, error) {
			return nil, queue.ErrQueueFull
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/sync", generateBody(t, nil))
	rec := httptest.NewRecorder()
	handler.NewGenerateSyncHandler(svc, time.Minute)(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
}
