// Package local runs the reconstruction pipeline by invoking a runner
// command (typically a Python entrypoint inside the model's conda env) as a
// subprocess per job.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"sam3dserve/internal/config"
	"sam3dserve/pkg/models"
)

// Provider implements models.InferenceProvider via a local runner command.
// The runner is invoked as:
//
//	<cmd> --input <image file> --output <artifact file> --format glb|ply
//	      --seed N --texture-size N --simplify F --steps N --nviews N
//	      [--with-texture]
//
// and must write the artifact to the output path, exiting non-zero on
// failure with the cause on stderr.
type Provider struct {
	command string
	workDir string
}

func NewProvider(cfg config.LocalConfig) *Provider {
	return &Provider{command: cfg.Command, workDir: cfg.WorkDir}
}

func (p *Provider) Name() string { return "local" }

func (p *Provider) Generate(ctx context.Context, req models.InferenceRequest) (models.InferenceResult, error) {
	dir, err := os.MkdirTemp("", "sam3d-run-")
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.png")
	outPath := filepath.Join(dir, "model."+req.Params.OutputFormat)

	if err := os.WriteFile(inPath, req.Image, 0644); err != nil {
		return models.InferenceResult{}, fmt.Errorf("writing input image: %w", err)
	}

	args := []string{
		"--input", inPath,
		"--output", outPath,
		"--format", req.Params.OutputFormat,
		"--seed", strconv.Itoa(req.Params.Seed),
		"--texture-size", strconv.Itoa(req.Params.TextureSize),
		"--simplify", strconv.FormatFloat(req.Params.Simplify, 'f', -1, 64),
		"--steps", strconv.Itoa(req.Params.InferenceSteps),
		"--nviews", strconv.Itoa(req.Params.NViews),
	}
	if req.Params.WithTexture {
		args = append(args, "--with-texture")
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = p.workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return models.InferenceResult{}, models.ErrInferenceTimeout
		}
		return models.InferenceResult{}, fmt.Errorf("runner failed: %w, stderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("%w: runner produced no artifact: %v", models.ErrInvalidOutput, err)
	}
	if len(data) == 0 {
		return models.InferenceResult{}, fmt.Errorf("%w: runner produced an empty artifact", models.ErrInvalidOutput)
	}

	return models.InferenceResult{
		Data:        data,
		Format:      req.Params.OutputFormat,
		ElapsedSecs: time.Since(start).Seconds(),
	}, nil
}

// Ready checks that the runner command exists on the PATH.
func (p *Provider) Ready(_ context.Context) error {
	if _, err := exec.LookPath(p.command); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: runner command %q not found", models.ErrRuntimeUnavailable, p.command)
		}
		return fmt.Errorf("%w: %v", models.ErrRuntimeUnavailable, err)
	}
	return nil
}

var _ models.InferenceProvider = (*Provider)(nil)
