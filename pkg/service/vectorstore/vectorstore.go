package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/utils/retry"
)

var (
	// ErrVectorStore wraps every persistence or search failure of the backend
	ErrVectorStore = errors.New("vector store failure")

	// ErrAuthorization means the requester does not own the chunk it tries to write or delete
	ErrAuthorization = errors.New("authorization failure")

	// ErrInvalidDimension means a chunk embedding or query vector has the wrong length
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidQuery means search parameters are out of range
	ErrInvalidQuery = errors.New("invalid search query")
)

const (
	DefaultThreshold = 0.5
	DefaultLimit     = 5
)

// SearchQuery is one similarity search request
type SearchQuery struct {
	Vector    []float32
	Scope     types.OwnerScope
	Requester types.OwnerID
	Threshold float64
	Limit     int
}

// Adapter enforces access control and result ordering on top of a ChunkRepository.
// Reads follow the query scope; writes and deletes are owner only.
type Adapter struct {
	repo      interfaces.ChunkRepository
	dimension int
}

type Option func(*Adapter)

// WithDimension overrides the required embedding length
func WithDimension(d int) Option {
	return func(a *Adapter) {
		a.dimension = d
	}
}

func New(repo interfaces.ChunkRepository, opts ...Option) *Adapter {
	a := &Adapter{
		repo:      repo,
		dimension: model.EmbeddingDimension,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// storeError keeps ErrNotFound distinguishable and tags everything else as ErrVectorStore
func storeError(err error, msg string, options ...goerr.Option) error {
	if errors.Is(err, interfaces.ErrNotFound) {
		return goerr.Wrap(err, msg, options...)
	}
	return goerr.Wrap(errors.Join(ErrVectorStore, err), msg, options...)
}

// Insert stores chunk on behalf of caller and returns its ID
func (a *Adapter) Insert(ctx context.Context, caller types.OwnerID, chunk *model.DocumentChunk) (model.ChunkID, error) {
	if caller == "" || chunk.OwnerID != caller {
		return "", goerr.Wrap(ErrAuthorization, "chunk owner does not match caller",
			goerr.V("caller", caller), goerr.V("owner_id", chunk.OwnerID))
	}
	if chunk.HasEmbedding() && len(chunk.Embedding) != a.dimension {
		return "", goerr.Wrap(ErrInvalidDimension, "chunk embedding has wrong dimension",
			goerr.V("expected", a.dimension), goerr.V("actual", len(chunk.Embedding)))
	}
	if chunk.ID == "" {
		// A fixed ID keeps a retried insert from creating a duplicate row
		chunk = chunk.Copy()
		chunk.ID = model.NewChunkID()
	}

	created, err := retry.Once(ctx, "vectorstore.insert", func(ctx context.Context) (*model.DocumentChunk, error) {
		return a.repo.Create(ctx, chunk)
	})
	if err != nil {
		return "", storeError(err, "failed to insert chunk", goerr.V("owner_id", caller))
	}
	return created.ID, nil
}

// Search returns chunks with similarity strictly above the threshold, ordered by
// similarity desc, then creation time asc, then ID asc.
func (a *Adapter) Search(ctx context.Context, q SearchQuery) ([]*model.ScoredChunk, error) {
	if len(q.Vector) != a.dimension {
		return nil, goerr.Wrap(ErrInvalidDimension, "query vector has wrong dimension",
			goerr.V("expected", a.dimension), goerr.V("actual", len(q.Vector)))
	}
	if q.Limit <= 0 {
		return nil, goerr.Wrap(ErrInvalidQuery, "limit must be positive", goerr.V("limit", q.Limit))
	}
	if q.Threshold < -1 || q.Threshold > 1 {
		return nil, goerr.Wrap(ErrInvalidQuery, "threshold out of range", goerr.V("threshold", q.Threshold))
	}

	search := interfaces.ChunkSearch{
		Embedding: q.Vector,
		Threshold: q.Threshold,
		Limit:     q.Limit,
	}
	switch q.Scope {
	case types.ScopeShared, "":
	case types.ScopeOwner:
		if q.Requester == "" {
			return nil, goerr.Wrap(ErrInvalidQuery, "owner scope requires a requester")
		}
		search.OwnerID = q.Requester
	default:
		return nil, goerr.Wrap(ErrInvalidQuery, "unknown owner scope", goerr.V("scope", q.Scope))
	}

	found, err := retry.Once(ctx, "vectorstore.search", func(ctx context.Context) ([]*model.ScoredChunk, error) {
		return a.repo.FindSimilar(ctx, search)
	})
	if err != nil {
		return nil, storeError(err, "failed to search chunks",
			goerr.V("scope", q.Scope), goerr.V("threshold", q.Threshold), goerr.V("limit", q.Limit))
	}

	results := make([]*model.ScoredChunk, 0, len(found))
	for _, r := range found {
		if r == nil || r.Chunk == nil || r.Similarity <= q.Threshold {
			continue
		}
		results = append(results, r)
	}
	SortResults(results)

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// SortResults orders results by similarity desc, creation time asc, then ID asc
func SortResults(results []*model.ScoredChunk) {
	slices.SortStableFunc(results, func(x, y *model.ScoredChunk) int {
		if c := cmp.Compare(y.Similarity, x.Similarity); c != 0 {
			return c
		}
		if c := x.Chunk.CreatedAt.Compare(y.Chunk.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.Chunk.ID, y.Chunk.ID)
	})
}

// Delete removes one chunk if requester owns it
func (a *Adapter) Delete(ctx context.Context, chunkID model.ChunkID, requester types.OwnerID) error {
	chunk, err := retry.Once(ctx, "vectorstore.get", func(ctx context.Context) (*model.DocumentChunk, error) {
		return a.repo.Get(ctx, chunkID)
	})
	if err != nil {
		return storeError(err, "failed to get chunk", goerr.V("chunk_id", chunkID))
	}
	if requester == "" || chunk.OwnerID != requester {
		return goerr.Wrap(ErrAuthorization, "requester does not own chunk",
			goerr.V("chunk_id", chunkID), goerr.V("requester", requester))
	}

	if err := retry.OnceErr(ctx, "vectorstore.delete", func(ctx context.Context) error {
		return a.repo.Delete(ctx, chunkID)
	}); err != nil {
		return storeError(err, "failed to delete chunk", goerr.V("chunk_id", chunkID))
	}
	return nil
}

// DeleteBySource removes every chunk of one uploaded document owned by requester
// and returns how many were removed.
func (a *Adapter) DeleteBySource(ctx context.Context, docID model.DocumentID, requester types.OwnerID) (int, error) {
	if requester == "" {
		return 0, goerr.Wrap(ErrAuthorization, "requester is required")
	}
	n, err := retry.Once(ctx, "vectorstore.delete_by_source", func(ctx context.Context) (int, error) {
		return a.repo.DeleteByDocument(ctx, requester, docID)
	})
	if err != nil {
		return 0, storeError(err, "failed to delete document chunks",
			goerr.V("document_id", docID), goerr.V("requester", requester))
	}
	return n, nil
}

// ListByOwner returns the owner's chunks, newest first
func (a *Adapter) ListByOwner(ctx context.Context, owner types.OwnerID) ([]*model.DocumentChunk, error) {
	chunks, err := retry.Once(ctx, "vectorstore.list", func(ctx context.Context) ([]*model.DocumentChunk, error) {
		return a.repo.ListByOwner(ctx, owner)
	})
	if err != nil {
		return nil, storeError(err, "failed to list chunks", goerr.V("owner_id", owner))
	}
	return chunks, nil
}
