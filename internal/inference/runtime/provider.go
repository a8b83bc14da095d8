// Package runtime talks to the model runtime sidecar over HTTP. The sidecar
// owns the GPU, the checkpoints, and the actual reconstruction pipeline; this
// client only ships images in and artifacts out.
package runtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"sam3dserve/internal/config"
	"sam3dserve/pkg/models"
)

// Provider implements models.InferenceProvider against the runtime's HTTP API.
type Provider struct {
	baseURL string
	client  *http.Client
	probe   *http.Client
}

func NewProvider(cfg config.RuntimeConfig) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		// No client timeout: the per-call context carries the inference
		// ceiling, and a generation legitimately runs for minutes.
		client: &http.Client{},
		probe:  &http.Client{Timeout: cfg.LoadTimeout},
	}
}

func (p *Provider) Name() string { return "runtime" }

type invokeRequest struct {
	Image          string  `json:"image"`
	Seed           int     `json:"seed"`
	OutputFormat   string  `json:"output_format"`
	WithTexture    bool    `json:"with_texture"`
	TextureSize    int     `json:"texture_size"`
	Simplify       float64 `json:"simplify"`
	InferenceSteps int     `json:"inference_steps"`
	NViews         int     `json:"nviews"`
}

type invokeResponse struct {
	Model          string  `json:"model"`
	Format         string  `json:"format"`
	Vertices       int     `json:"vertices"`
	Faces          int     `json:"faces"`
	ProcessingTime float64 `json:"processing_time"`
	Error          string  `json:"error"`
}

func (p *Provider) Generate(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	body, err := json.Marshal(invokeRequest{
		Image:          base64.StdEncoding.EncodeToString(req.Image),
		Seed:           req.Params.Seed,
		OutputFormat:   req.Params.OutputFormat,
		WithTexture:    req.Params.WithTexture,
		TextureSize:    req.Params.TextureSize,
		Simplify:       req.Params.Simplify,
		InferenceSteps: req.Params.InferenceSteps,
		NViews:         req.Params.NViews,
	})
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("encoding invoke request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("building invoke request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.InferenceResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: decoding response: %v", models.ErrInvalidOutput, err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return models.InferenceResult{}, fmt.Errorf("runtime error (status %d): %s", resp.StatusCode, out.Error)
		}
		return models.InferenceResult{}, fmt.Errorf("runtime returned status %d", resp.StatusCode)
	}
	if out.Error != "" {
		return models.InferenceResult{}, fmt.Errorf("runtime error: %s", out.Error)
	}
	if out.Model == "" {
		return models.InferenceResult{}, fmt.Errorf("%w: empty model payload", models.ErrInvalidOutput)
	}

	data, err := base64.StdEncoding.DecodeString(out.Model)
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: model payload is not valid base64", models.ErrInvalidOutput)
	}

	format := out.Format
	if format == "" {
		format = req.Params.OutputFormat
	}

	return models.InferenceResult{
		Data:        data,
		Format:      format,
		Vertices:    out.Vertices,
		Faces:       out.Faces,
		ElapsedSecs: out.ProcessingTime,
	}, nil
}

// Ready probes the runtime's health endpoint and reports whether the model
// checkpoint is loaded.
func (p *Provider) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := p.probe.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", models.ErrRuntimeUnavailable, resp.StatusCode)
	}

	var health struct {
		ModelLoaded bool `json:"model_loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: decoding health response: %v", models.ErrInvalidOutput, err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("%w: model not loaded yet", models.ErrRuntimeUnavailable)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrInferenceTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrInferenceTimeout
	}
	return fmt.Errorf("%w: %v", models.ErrRuntimeUnavailable, err)
}

var _ models.InferenceProvider = (*Provider)(nil)
