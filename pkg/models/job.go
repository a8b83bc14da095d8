package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one image-to-3D generation request. The API returns a job_id on
// POST /api/v1/generate; the client polls GET /api/v1/jobs/{job_id} until
// status is completed or failed, then fetches the artifact from the download
// endpoint.
//
// Status moves queued -> processing -> completed|failed and never backwards.
// Records live in memory for the process lifetime only.
type Job struct {
	ID          uuid.UUID      `json:"id"`
	Status      string         `json:"status"`
	Params      GenerateParams `json:"params"`
	Result      *ArtifactRef   `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Vertices    int            `json:"vertices,omitempty"`
	Faces       int            `json:"faces,omitempty"`
	ElapsedSecs float64        `json:"processing_time,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
