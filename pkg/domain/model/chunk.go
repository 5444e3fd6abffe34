package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// EmbeddingDimension is the dimension of every stored embedding vector.
// It matches the vector(768) column width of the document store.
const EmbeddingDimension = 768

// Chunk metadata keys written by the upload pipeline
const (
	MetaChunkIndex  = "chunk_index"
	MetaStartOffset = "start_offset"
	MetaEndOffset   = "end_offset"
	MetaDocumentID  = "document_id"
	MetaCharCount   = "char_count"
	MetaLineCount   = "line_count"
	MetaContentType = "content_type"
)

// ChunkID is a UUID-based identifier for DocumentChunk
type ChunkID string

// NewChunkID generates a new UUID v4 ChunkID
func NewChunkID() ChunkID {
	return ChunkID(uuid.New().String())
}

// DocumentID identifies one uploaded source document; all of its chunks share it
type DocumentID string

// NewDocumentID generates a new UUID v4 DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

// DocumentChunk is a bounded slice of an uploaded document together with its embedding
type DocumentChunk struct {
	ID         ChunkID
	OwnerID    types.OwnerID
	DocumentID DocumentID
	SourceName string // original filename
	Text       string
	Embedding  []float32 // nil when embedding failed
	Metadata   map[string]any
	CreatedAt  time.Time
}

// HasEmbedding reports whether the chunk carries a vector
func (c *DocumentChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// Copy returns a deep copy of the chunk
func (c *DocumentChunk) Copy() *DocumentChunk {
	copied := *c
	if c.Embedding != nil {
		copied.Embedding = make([]float32, len(c.Embedding))
		copy(copied.Embedding, c.Embedding)
	}
	if c.Metadata != nil {
		copied.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// ScoredChunk is a search hit. Similarity is cosine similarity (1 - cosine distance).
type ScoredChunk struct {
	Chunk      *DocumentChunk
	Similarity float64
}
