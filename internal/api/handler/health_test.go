package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sam3dserve/internal/api/handler"
	"sam3dserve/internal/inference/mock"
	"sam3dserve/internal/queue"
)

type mockQueueInfo struct {
	stats      queue.Stats
	generation int
}

func (m *mockQueueInfo) Stats() queue.Stats { return m.stats }
func (m *mockQueueInfo) Generation() int    { return m.generation }

func TestHealthHandler_Healthy(t *testing.T) {
	q := &mockQueueInfo{
		stats:      queue.Stats{Queued: 3, Processing: 1, MaxQueueSize: 16, MaxConcurrent: 1},
		generation: 2,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.NewHealthHandler(q, mock.NewMockProvider(), nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var data struct {
		Status           string      `json:"status"`
		ModelLoaded      bool        `json:"model_loaded"`
		Provider         string      `json:"provider"`
		WorkerGeneration int         `json:"worker_generation"`
		Queue            queue.Stats `json:"queue"`
		Cache            string      `json:"cache"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data.Status != "ok" || !data.ModelLoaded {
		t.Errorf("expected healthy response, got %+v", data)
	}
	if data.Provider != "mock" {
		t.Errorf("expected provider mock, got %q", data.Provider)
	}
	if data.WorkerGeneration != 2 {
		t.Errorf("expected worker generation 2, got %d", data.WorkerGeneration)
	}
	if data.Queue.Queued != 3 || data.Queue.Processing != 1 {
		t.Errorf("unexpected queue stats: %+v", data.Queue)
	}
	if data.Cache != "disabled" {
		t.Errorf("expected cache disabled without redis, got %q", data.Cache)
	}
}

func TestHealthHandler_BackendNotLoaded(t *testing.T) {
	provider := mock.NewFailingProvider(errors.New("model still loading"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.NewHealthHandler(&mockQueueInfo{}, provider, nil)(rec, req)

	// The process is up, so the probe still gets 200; model_loaded carries
	// the backend state.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var data struct {
		ModelLoaded bool `json:"model_loaded"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data.ModelLoaded {
		t.Error("expected model_loaded false when the backend is not ready")
	}
}

func TestQueueStatsHandler(t *testing.T) {
	q := &mockQueueInfo{stats: queue.Stats{Queued: 5, Processing: 1, MaxQueueSize: 8, MaxConcurrent: 1}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	rec := httptest.NewRecorder()
	handler.NewQueueStatsHandler(q)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var stats queue.Stats
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if stats.Queued != 5 || stats.MaxQueueSize != 8 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
