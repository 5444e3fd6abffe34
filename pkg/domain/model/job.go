package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// JobID is a UUID-based identifier for EmbeddingJob
type JobID string

// NewJobID generates a new UUID v4 JobID
func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// EmbeddingJob tracks asynchronous processing of one uploaded document
type EmbeddingJob struct {
	ID         JobID
	OwnerID    types.OwnerID
	DocumentID DocumentID
	FilePath   string // blob storage path of the raw upload
	FileName   string
	Status     types.JobStatus
	Metadata   map[string]any
	ChunkCount int
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Copy returns a deep copy of the job
func (j *EmbeddingJob) Copy() *EmbeddingJob {
	copied := *j
	if j.Metadata != nil {
		copied.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// BlobPath returns the storage path of a raw upload
func BlobPath(docID DocumentID, filename string) string {
	return "docs/" + string(docID) + "/" + filename
}
