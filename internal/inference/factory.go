package inference

import (
	"fmt"

	"sam3dserve/internal/config"
	"sam3dserve/internal/inference/local"
	"sam3dserve/internal/inference/mock"
	"sam3dserve/internal/inference/runtime"
	"sam3dserve/pkg/models"
)

// NewProvider constructs the appropriate inference backend based on config.
// Called once at server startup.
func NewProvider(cfg config.InferenceConfig) (models.InferenceProvider, error) {
	switch cfg.Provider {
	case "runtime":
		return runtime.NewProvider(cfg.Runtime), nil
	case "local":
		return local.NewProvider(cfg.Local), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of runtime, local, mock", cfg.Provider)
	}
}
