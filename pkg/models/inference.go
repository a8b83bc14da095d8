// Package models contains shared data models used across the codebase.
package models

import (
	"context"
	"errors"
)

// Errors shared by every inference backend. They live here, next to the
// provider interface, so that backends and their callers never have to
// import each other.
var (
	ErrRuntimeUnavailable = errors.New("model runtime unavailable")
	ErrInferenceTimeout   = errors.New("inference timeout")
	ErrInvalidOutput      = errors.New("model runtime returned invalid output")
)

// InferenceProvider is the boundary to the 3D reconstruction model. The queue
// worker never calls a concrete backend directly — always inject this
// interface so tests can substitute a deterministic fake.
type InferenceProvider interface {
	// Generate runs one reconstruction synchronously. It blocks until the
	// model finishes, the context expires, or the backend fails. Exactly one
	// call may be in flight per process.
	Generate(ctx context.Context, req InferenceRequest) (InferenceResult, error)
	// Ready reports whether the model backend is loaded and reachable.
	Ready(ctx context.Context) error
	// Name returns the backend identifier (e.g., "runtime", "local").
	Name() string
}

// InferenceRequest is the input to one model invocation.
type InferenceRequest struct {
	Image  []byte // decoded image bytes, as received from the client
	Params GenerateParams
}

// InferenceResult is the output of a successful model invocation.
type InferenceResult struct {
	Data        []byte  // artifact bytes (GLB mesh or PLY splat)
	Format      string  // FormatGLB or FormatPLY
	Vertices    int     // mesh stats, zero for PLY output
	Faces       int
	ElapsedSecs float64 // wall-clock seconds spent in the pipeline
}
