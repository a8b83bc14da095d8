// Package queue serializes GPU-bound generation jobs. Submissions are
// appended to a FIFO and executed one at a time by a single background
// worker, because the underlying accelerator cannot run two inference calls
// concurrently. Job records live in memory for the process lifetime.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sam3dserve/internal/artifact"
	"sam3dserve/internal/cache"
	"sam3dserve/internal/config"
	"sam3dserve/internal/image"
	"sam3dserve/pkg/models"
)

// statusMirrorTTL bounds how long job statuses linger in the optional
// Redis mirror.
const statusMirrorTTL = 30 * time.Minute

// Resolver turns a validated image source into raw bytes. Satisfied by
// *image.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, src image.Source) ([]byte, error)
}

// Stats is an instantaneous snapshot of queue occupancy.
type Stats struct {
	Queued        int `json:"queued"`
	Processing    int `json:"processing"`
	MaxQueueSize  int `json:"max_queue_size"`
	MaxConcurrent int `json:"max_concurrent"`
}

// JobView is the externally visible state of a job. Position is derived at
// query time: the number of earlier-submitted jobs still ahead of this one,
// zero once processing or terminal.
type JobView struct {
	JobID        uuid.UUID  `json:"job_id"`
	Status       string     `json:"status"`
	Position     int        `json:"position"`
	OutputFormat string     `json:"output_format"`
	Error        string     `json:"error,omitempty"`
	Vertices     int        `json:"vertices,omitempty"`
	Faces        int        `json:"faces,omitempty"`
	ElapsedSecs  float64    `json:"processing_time,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SyncResult is the output of SubmitAndWait.
type SyncResult struct {
	JobID       uuid.UUID
	Data        []byte
	Format      string
	Vertices    int
	Faces       int
	ElapsedSecs float64
}

// Queue owns the job table, the FIFO ordering, and the worker lifecycle.
// Construct independent instances with New; there is no package-level state.
type Queue struct {
	cfg        config.QueueConfig
	infTimeout time.Duration
	provider   models.InferenceProvider
	artifacts  *artifact.Store
	resolver   Resolver
	cache      cache.Cache // optional status mirror, may be nil

	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.Job
	pending    []uuid.UUID
	processing uuid.UUID // uuid.Nil when the worker is idle
	generation int

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Queue. The cache may be nil; every other dependency is
// required.
func New(cfg config.QueueConfig, infTimeout time.Duration, provider models.InferenceProvider, artifacts *artifact.Store, resolver Resolver, ca cache.Cache) *Queue {
	return &Queue{
		cfg:        cfg,
		infTimeout: infTimeout,
		provider:   provider,
		artifacts:  artifacts,
		resolver:   resolver,
		cache:      ca,
		jobs:       make(map[uuid.UUID]*models.Job),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Submit validates params, creates a job in queued state, and appends it to
// the FIFO. Returns immediately; the call never blocks on inference.
func (q *Queue) Submit(params models.GenerateParams) (uuid.UUID, error) {
	if err := validateParams(params); err != nil {
		return uuid.Nil, err
	}

	job := &models.Job{
		ID:          uuid.New(),
		Status:      models.JobStatusQueued,
		Params:      params,
		SubmittedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if len(q.pending) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	q.mu.Unlock()

	q.mirrorStatus(job.ID, models.JobStatusQueued)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return job.ID, nil
}

// Status returns the current view of a job.
func (q *Queue) Status(id uuid.UUID) (JobView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return JobView{}, ErrNotFound
	}
	return q.viewLocked(job), nil
}

func (q *Queue) viewLocked(job *models.Job) JobView {
	view := JobView{
		JobID:        job.ID,
		Status:       job.Status,
		OutputFormat: job.Params.OutputFormat,
		Error:        job.Error,
		Vertices:     job.Vertices,
		Faces:        job.Faces,
		ElapsedSecs:  job.ElapsedSecs,
		SubmittedAt:  job.SubmittedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == models.JobStatusQueued {
		for i, id := range q.pending {
			if id == job.ID {
				view.Position = i
				break
			}
		}
		// The in-flight job was submitted before everything still pending.
		if q.processing != uuid.Nil {
			view.Position++
		}
	}
	return view
}

// Download returns the artifact bytes for a completed job. Jobs that are
// not yet terminal report ErrNotReady; expired artifacts report ErrNotFound
// even though the job record may still say completed.
func (q *Queue) Download(id uuid.UUID) ([]byte, string, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	var ref *models.ArtifactRef
	if ok && job.Result != nil {
		r := *job.Result
		ref = &r
	}
	var status string
	if ok {
		status = job.Status
	}
	q.mu.Unlock()

	if !ok {
		return nil, "", ErrNotFound
	}
	if status != models.JobStatusCompleted || ref == nil {
		return nil, "", ErrNotReady
	}

	data, err := q.artifacts.Load(*ref)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return data, ref.Format, nil
}

// Cancel removes a still-queued job before the worker reaches it. Jobs that
// are processing or terminal cannot be canceled; the model invocation is an
// opaque blocking call.
func (q *Queue) Cancel(id uuid.UUID) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	if job.Status != models.JobStatusQueued {
		q.mu.Unlock()
		return ErrNotCancelable
	}
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = "canceled before processing"
	job.CompletedAt = &now
	q.mu.Unlock()

	q.mirrorStatus(id, models.JobStatusFailed)
	return nil
}

// Stats returns an instantaneous snapshot of queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	processing := 0
	if q.processing != uuid.Nil {
		processing = 1
	}
	return Stats{
		Queued:        len(q.pending),
		Processing:    processing,
		MaxQueueSize:  q.cfg.MaxQueueSize,
		MaxConcurrent: q.cfg.MaxConcurrent,
	}
}

// Generation returns the current worker generation. It increments whenever
// the supervisor replaces the worker, after a crash or a scheduled recycle.
func (q *Queue) Generation() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation
}

// SubmitAndWait submits a job and blocks until it reaches a terminal state
// or timeout elapses. Convenience for simple clients; with a deep queue the
// async submit-then-poll flow is the better choice. On timeout the job keeps
// its place in the queue and the returned error carries the id for polling.
func (q *Queue) SubmitAndWait(ctx context.Context, params models.GenerateParams, timeout time.Duration) (*SyncResult, error) {
	id, err := q.Submit(params)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.cfg.WaitPollInterval)
	defer ticker.Stop()

	for {
		view, err := q.Status(id)
		if err != nil {
			return nil, err
		}
		switch view.Status {
		case models.JobStatusCompleted:
			data, format, err := q.Download(id)
			if err != nil {
				return nil, err
			}
			return &SyncResult{
				JobID:       id,
				Data:        data,
				Format:      format,
				Vertices:    view.Vertices,
				Faces:       view.Faces,
				ElapsedSecs: view.ElapsedSecs,
			}, nil
		case models.JobStatusFailed:
			return nil, &GenerationError{JobID: id, Reason: view.Error}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &WaitTimeoutError{JobID: id}
		case <-ticker.C:
		}
	}
}

func validateParams(p models.GenerateParams) error {
	if _, err := image.ParseSource(p.ImageData, p.ImageURL); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	if p.OutputFormat != models.FormatGLB && p.OutputFormat != models.FormatPLY {
		return &ValidationError{Msg: fmt.Sprintf("output_format must be %q or %q, got %q", models.FormatGLB, models.FormatPLY, p.OutputFormat)}
	}
	if p.Seed < 0 {
		return &ValidationError{Msg: fmt.Sprintf("seed must not be negative, got %d", p.Seed)}
	}
	if p.TextureSize < models.MinTextureSize || p.TextureSize > models.MaxTextureSize {
		return &ValidationError{Msg: fmt.Sprintf("texture_size must be between %d and %d, got %d", models.MinTextureSize, models.MaxTextureSize, p.TextureSize)}
	}
	if p.Simplify < 0 || p.Simplify > 1 {
		return &ValidationError{Msg: fmt.Sprintf("simplify must be between 0 and 1, got %g", p.Simplify)}
	}
	if p.InferenceSteps < 1 || p.InferenceSteps > models.MaxInferenceSteps {
		return &ValidationError{Msg: fmt.Sprintf("inference_steps must be between 1 and %d, got %d", models.MaxInferenceSteps, p.InferenceSteps)}
	}
	if p.NViews < 1 || p.NViews > models.MaxNViews {
		return &ValidationError{Msg: fmt.Sprintf("nviews must be between 1 and %d, got %d", models.MaxNViews, p.NViews)}
	}
	return nil
}

// mirrorStatus writes the transition to the optional Redis mirror,
// best-effort.
func (q *Queue) mirrorStatus(id uuid.UUID, status string) {
	if q.cache == nil {
		return
	}
	_ = q.cache.SetJobStatus(context.Background(), id, status, statusMirrorTTL)
}
