package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull means the backpressure ceiling was hit; the caller should
	// retry later. No job is created.
	ErrQueueFull = errors.New("queue is full")
	// ErrNotFound means the job id is unknown or its artifact has expired.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady means a download was attempted before the job completed.
	ErrNotReady = errors.New("job result not ready")
	// ErrNotCancelable means the job already left the queued state.
	ErrNotCancelable = errors.New("job can no longer be canceled")
)

// ValidationError reports a malformed or contradictory submission. The job
// is never created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// GenerationError surfaces a failed job on the synchronous path. The same
// failure is recorded on the job record for pollers.
type GenerationError struct {
	JobID  uuid.UUID
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

// WaitTimeoutError means SubmitAndWait gave up before the job reached a
// terminal state. The job keeps running; the caller can fall back to
// polling JobID.
type WaitTimeoutError struct {
	JobID uuid.UUID
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for job %s", e.JobID)
}
