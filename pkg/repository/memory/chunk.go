package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

type chunkRepository struct {
	mu     sync.RWMutex
	chunks map[model.ChunkID]*model.DocumentChunk
}

func newChunkRepository() *chunkRepository {
	return &chunkRepository{
		chunks: make(map[model.ChunkID]*model.DocumentChunk),
	}
}

func (r *chunkRepository) Create(ctx context.Context, chunk *model.DocumentChunk) (*model.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := chunk.Copy()
	if created.ID == "" {
		created.ID = model.NewChunkID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	r.chunks[created.ID] = created
	return created.Copy(), nil
}

func (r *chunkRepository) Get(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, ok := r.chunks[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
	}
	return chunk.Copy(), nil
}

func (r *chunkRepository) Delete(ctx context.Context, id model.ChunkID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chunks[id]; !ok {
		return goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
	}
	delete(r.chunks, id)
	return nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, ownerID types.OwnerID, docID model.DocumentID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, c := range r.chunks {
		if c.OwnerID == ownerID && c.DocumentID == docID {
			delete(r.chunks, id)
			count++
		}
	}
	return count, nil
}

func (r *chunkRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.DocumentChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.DocumentChunk, 0)
	for _, c := range r.chunks {
		if c.OwnerID == ownerID {
			result = append(result, c.Copy())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// FindSimilar scans every chunk. The memory backend is exact, not approximate.
func (r *chunkRepository) FindSimilar(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*model.ScoredChunk, 0)
	for _, c := range r.chunks {
		if !c.HasEmbedding() {
			continue
		}
		if q.OwnerID != "" && c.OwnerID != q.OwnerID {
			continue
		}
		s := cosineSimilarity(q.Embedding, c.Embedding)
		if s <= q.Threshold {
			continue
		}
		candidates = append(candidates, &model.ScoredChunk{Chunk: c.Copy(), Similarity: s})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Chunk.CreatedAt.Before(candidates[j].Chunk.CreatedAt)
	})

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
