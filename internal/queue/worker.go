package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"sam3dserve/internal/image"
	"sam3dserve/pkg/models"
)

// idleTick guards against a lost wakeup while the worker sits idle.
const idleTick = time.Second

// Start launches the supervisor, which runs worker generations until Stop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.supervise()
}

// Stop shuts the worker down and waits for it to exit. An in-flight
// inference call is canceled and its job marked failed.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// supervise keeps exactly one worker alive. A worker returns either because
// the queue is stopping, because it hit its recycle quota, or because it
// panicked (the panic is recovered inside runWorker); in the latter two
// cases a fresh generation takes over.
func (q *Queue) supervise() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		default:
		}

		q.mu.Lock()
		q.generation++
		gen := q.generation
		q.mu.Unlock()

		slog.Info("worker started", "generation", gen)
		q.runWorker()
	}
}

func (q *Queue) runWorker() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker crashed",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			q.failInFlight(fmt.Sprintf("worker crashed: %v", r))
		}
	}()

	// Failed runs count toward the quota too: a failed inference leaks
	// backend state just as much as a successful one.
	jobsRun := 0
	for {
		job := q.dequeue()
		if job == nil {
			select {
			case <-q.stop:
				return
			case <-q.wake:
			case <-time.After(idleTick):
			}
			continue
		}

		q.execute(job)
		jobsRun++

		if q.cfg.RecycleAfter > 0 && jobsRun >= q.cfg.RecycleAfter {
			slog.Info("worker retiring for recycle", "jobs_run", jobsRun)
			return
		}
	}
}

// dequeue pops the earliest-submitted queued job and transitions it to
// processing. Returns nil when the queue is empty.
func (q *Queue) dequeue() *models.Job {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]

	job := q.jobs[id]
	now := time.Now().UTC()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	q.processing = id
	q.mu.Unlock()

	q.mirrorStatus(id, models.JobStatusProcessing)
	slog.Info("job started", "job_id", id, "format", job.Params.OutputFormat)
	return job
}

// execute runs one job against the inference provider. The call is bounded
// by the configured inference ceiling and canceled on Stop.
func (q *Queue) execute(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.infTimeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-q.stop:
			cancel()
		case <-done:
		}
	}()

	src, err := image.ParseSource(job.Params.ImageData, job.Params.ImageURL)
	if err != nil {
		// Params were validated at submit; only a corrupted record gets here.
		q.fail(job.ID, fmt.Sprintf("invalid image source: %v", err))
		return
	}

	img, err := q.resolver.Resolve(ctx, src)
	if err != nil {
		q.fail(job.ID, fmt.Sprintf("fetching image: %v", err))
		return
	}

	result, err := q.provider.Generate(ctx, models.InferenceRequest{Image: img, Params: job.Params})
	if err != nil {
		switch {
		case q.stopping():
			q.fail(job.ID, "server shutting down")
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrInferenceTimeout):
			q.fail(job.ID, fmt.Sprintf("inference timed out after %s", q.infTimeout))
		default:
			q.fail(job.ID, err.Error())
		}
		return
	}

	ref, err := q.artifacts.Save(result.Data, result.Format)
	if err != nil {
		q.fail(job.ID, fmt.Sprintf("storing artifact: %v", err))
		return
	}

	q.complete(job.ID, ref, result)
}

func (q *Queue) fail(id uuid.UUID, reason string) {
	now := time.Now().UTC()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok && !job.Terminal() {
		job.Status = models.JobStatusFailed
		job.Error = reason
		job.CompletedAt = &now
	}
	if q.processing == id {
		q.processing = uuid.Nil
	}
	q.mu.Unlock()

	q.mirrorStatus(id, models.JobStatusFailed)
	slog.Warn("job failed", "job_id", id, "error", reason)
}

func (q *Queue) complete(id uuid.UUID, ref models.ArtifactRef, result models.InferenceResult) {
	now := time.Now().UTC()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok && !job.Terminal() {
		job.Status = models.JobStatusCompleted
		job.Result = &ref
		job.Vertices = result.Vertices
		job.Faces = result.Faces
		job.ElapsedSecs = result.ElapsedSecs
		job.CompletedAt = &now
	}
	if q.processing == id {
		q.processing = uuid.Nil
	}
	q.mu.Unlock()

	q.mirrorStatus(id, models.JobStatusCompleted)
	slog.Info("job completed",
		"job_id", id,
		"format", ref.Format,
		"processing_time", result.ElapsedSecs,
	)
}

// failInFlight force-fails whatever job was processing when the worker died,
// so it is not left stuck forever.
func (q *Queue) failInFlight(reason string) {
	q.mu.Lock()
	id := q.processing
	q.mu.Unlock()

	if id != uuid.Nil {
		q.fail(id, reason)
	}
}

func (q *Queue) stopping() bool {
	select {
	case <-q.stop:
		return true
	default:
		return false
	}
}
