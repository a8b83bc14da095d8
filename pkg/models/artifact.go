package models

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactRef is a handle to a stored output file. The artifact store owns
// the bytes and the on-disk path; jobs hold only this reference.
type ArtifactRef struct {
	ID        uuid.UUID `json:"id"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}
