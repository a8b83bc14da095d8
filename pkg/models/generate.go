package models

// Output encodings produced by the model pipeline.
const (
	FormatGLB = "glb" // textured triangle mesh
	FormatPLY = "ply" // gaussian splat point cloud
)

// Default knob values, matching the model pipeline's own defaults.
const (
	DefaultSeed           = 42
	DefaultTextureSize    = 2048
	DefaultSimplify       = 0.3
	DefaultInferenceSteps = 50
	DefaultNViews         = 200
)

// Knob ranges accepted by Validate in the queue.
const (
	MinTextureSize    = 256
	MaxTextureSize    = 4096
	MaxInferenceSteps = 100
	MaxNViews         = 500
)

// GenerateParams are the validated parameters of one generation request.
// Exactly one of ImageData (base64-encoded image bytes) or ImageURL must be
// set. The quality knobs are pass-through to the model pipeline; the queue
// only checks types and ranges. Immutable once the job is created.
type GenerateParams struct {
	ImageData      string  `json:"image,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	Seed           int     `json:"seed"`
	OutputFormat   string  `json:"output_format"`
	WithTexture    bool    `json:"with_texture"`
	TextureSize    int     `json:"texture_size"`
	Simplify       float64 `json:"simplify"`
	InferenceSteps int     `json:"inference_steps"`
	NViews         int     `json:"nviews"`
}
