package interfaces

import (
	"context"

	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// ChunkSearch is a similarity query against stored chunk embeddings
type ChunkSearch struct {
	Embedding []float32
	// OwnerID restricts results to one owner; empty means all owners
	OwnerID   types.OwnerID
	Threshold float64
	Limit     int
}

// ChunkRepository persists document chunks and runs vector similarity search.
// Access control is enforced by the caller (vectorstore adapter); repositories store what they are given.
type ChunkRepository interface {
	// Create persists a chunk. ID and CreatedAt are assigned when empty.
	Create(ctx context.Context, chunk *model.DocumentChunk) (*model.DocumentChunk, error)

	// Get retrieves a chunk by ID
	Get(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error)

	// Delete removes a chunk by ID
	Delete(ctx context.Context, id model.ChunkID) error

	// DeleteByDocument removes every chunk of a document owned by ownerID and returns the count
	DeleteByDocument(ctx context.Context, ownerID types.OwnerID, docID model.DocumentID) (int, error)

	// ListByOwner returns the chunks of one owner, newest first
	ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.DocumentChunk, error)

	// FindSimilar returns chunks whose cosine similarity to the query embedding
	// exceeds the threshold, best first, at most Limit entries. Results may be approximate.
	FindSimilar(ctx context.Context, q ChunkSearch) ([]*model.ScoredChunk, error)
}
