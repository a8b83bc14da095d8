package mock

import (
	"context"
	"time"

	"sam3dserve/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error)
	ReadyFunc    func(ctx context.Context) error
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.InferenceResult{}, nil
}

func (m *MockProvider) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// GLBMagic is the header of every binary glTF container; the default mock
// output starts with it so downloads look like real GLB files.
var GLBMagic = []byte("glTF")

// NewMockProvider returns a MockProvider that succeeds instantly with a
// small deterministic artifact in the requested format.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
			if req.Params.OutputFormat == models.FormatPLY {
				return models.InferenceResult{
					Data:        []byte("ply\nformat binary_little_endian 1.0\nend_header\n"),
					Format:      models.FormatPLY,
					ElapsedSecs: 0.1,
				}, nil
			}
			return models.InferenceResult{
				Data:        append(append([]byte{}, GLBMagic...), 0x02, 0x00, 0x00, 0x00),
				Format:      models.FormatGLB,
				Vertices:    8,
				Faces:       12,
				ElapsedSecs: 0.1,
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.InferenceRequest) (models.InferenceResult, error) {
			return models.InferenceResult{}, err
		},
		ReadyFunc: func(_ context.Context) error { return err },
	}
}

// NewSlowProvider returns a MockProvider that waits for d before succeeding,
// or returns ErrInferenceTimeout if the context expires first.
func NewSlowProvider(d time.Duration) *MockProvider {
	base := NewMockProvider()
	return &MockProvider{
		Name_: "mock-slow",
		GenerateFunc: func(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
			select {
			case <-time.After(d):
				return base.GenerateFunc(ctx, req)
			case <-ctx.Done():
				return models.InferenceResult{}, models.ErrInferenceTimeout
			}
		},
	}
}

// Compile-time check that MockProvider implements InferenceProvider.
var _ models.InferenceProvider = (*MockProvider)(nil)
