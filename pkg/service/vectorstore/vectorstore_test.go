package vectorstore_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/repository/memory"
	"github.com/secmon-lab/asclepius/pkg/service/vectorstore"
)

type mockChunkRepository struct {
	interfaces.ChunkRepository
	findSimilarFn func(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error)
	createFn      func(ctx context.Context, c *model.DocumentChunk) (*model.DocumentChunk, error)
	getFn         func(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error)
	deleteFn      func(ctx context.Context, id model.ChunkID) error
}

func (m *mockChunkRepository) FindSimilar(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
	return m.findSimilarFn(ctx, q)
}

func (m *mockChunkRepository) Create(ctx context.Context, c *model.DocumentChunk) (*model.DocumentChunk, error) {
	return m.createFn(ctx, c)
}

func (m *mockChunkRepository) Get(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error) {
	return m.getFn(ctx, id)
}

func (m *mockChunkRepository) Delete(ctx context.Context, id model.ChunkID) error {
	return m.deleteFn(ctx, id)
}

func axisVector(sim float64) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func queryVector() []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = 1
	return v
}

func TestAdapter_Insert(t *testing.T) {
	ctx := context.Background()
	owner := types.OwnerID("user-a")

	t.Run("stores chunk owned by caller", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())

		id, err := adapter.Insert(ctx, owner, &model.DocumentChunk{
			OwnerID: owner, SourceName: "a.txt", Text: "aspirin", Embedding: queryVector(),
		})
		gt.NoError(t, err).Required()
		gt.Value(t, id).NotEqual(model.ChunkID(""))

		got, err := repo.Chunk().Get(ctx, id)
		gt.NoError(t, err).Required()
		gt.Value(t, got.OwnerID).Equal(owner)
	})

	t.Run("rejects owner mismatch", func(t *testing.T) {
		adapter := vectorstore.New(memory.New().Chunk())
		_, err := adapter.Insert(ctx, owner, &model.DocumentChunk{
			OwnerID: "user-b", Text: "x", Embedding: queryVector(),
		})
		gt.Error(t, err).Is(vectorstore.ErrAuthorization)
	})

	t.Run("rejects wrong dimension before storage", func(t *testing.T) {
		var calls atomic.Int32
		adapter := vectorstore.New(&mockChunkRepository{
			createFn: func(ctx context.Context, c *model.DocumentChunk) (*model.DocumentChunk, error) {
				calls.Add(1)
				return c, nil
			},
		})
		_, err := adapter.Insert(ctx, owner, &model.DocumentChunk{
			OwnerID: owner, Text: "x", Embedding: make([]float32, 1536),
		})
		gt.Error(t, err).Is(vectorstore.ErrInvalidDimension)
		gt.Number(t, calls.Load()).Equal(0)
	})

	t.Run("accepts chunk without embedding", func(t *testing.T) {
		adapter := vectorstore.New(memory.New().Chunk())
		_, err := adapter.Insert(ctx, owner, &model.DocumentChunk{OwnerID: owner, Text: "x"})
		gt.NoError(t, err)
	})
}

func TestAdapter_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("returns chunks above threshold in descending order", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())

		for i, sim := range []float64{0.80, 0.30, 0.95, 0.60, 0.91} {
			owner := types.OwnerID("user-a")
			if i%2 == 1 {
				owner = "user-b"
			}
			_, err := adapter.Insert(ctx, owner, &model.DocumentChunk{
				OwnerID: owner, SourceName: "doc.txt", Text: "chunk", Embedding: axisVector(sim),
			})
			gt.NoError(t, err).Required()
		}

		results, err := adapter.Search(ctx, vectorstore.SearchQuery{
			Vector:    queryVector(),
			Scope:     types.ScopeShared,
			Requester: "user-c",
			Threshold: 0.78,
			Limit:     5,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(3).Required()
		for i := 0; i+1 < len(results); i++ {
			gt.Bool(t, results[i].Similarity >= results[i+1].Similarity).True()
		}
		for _, r := range results {
			gt.Bool(t, r.Similarity > 0.78).True()
		}
	})

	t.Run("owner scope restricts to requester", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())

		_, err := adapter.Insert(ctx, "user-a", &model.DocumentChunk{OwnerID: "user-a", Text: "a", Embedding: axisVector(0.9)})
		gt.NoError(t, err).Required()
		_, err = adapter.Insert(ctx, "user-b", &model.DocumentChunk{OwnerID: "user-b", Text: "b", Embedding: axisVector(0.9)})
		gt.NoError(t, err).Required()

		results, err := adapter.Search(ctx, vectorstore.SearchQuery{
			Vector: queryVector(), Scope: types.ScopeOwner, Requester: "user-a", Threshold: 0.5, Limit: 5,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1).Required()
		gt.Value(t, results[0].Chunk.OwnerID).Equal(types.OwnerID("user-a"))
	})

	t.Run("re-sorts and filters approximate backend results", func(t *testing.T) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		adapter := vectorstore.New(&mockChunkRepository{
			findSimilarFn: func(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
				return []*model.ScoredChunk{
					{Chunk: &model.DocumentChunk{ID: "late", CreatedAt: base.Add(time.Hour)}, Similarity: 0.9},
					{Chunk: &model.DocumentChunk{ID: "edge", CreatedAt: base}, Similarity: 0.5},
					{Chunk: &model.DocumentChunk{ID: "best", CreatedAt: base}, Similarity: 0.95},
					{Chunk: &model.DocumentChunk{ID: "early", CreatedAt: base}, Similarity: 0.9},
				}, nil
			},
		})

		results, err := adapter.Search(ctx, vectorstore.SearchQuery{
			Vector: queryVector(), Threshold: 0.5, Limit: 2,
		})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(2).Required()
		gt.Value(t, results[0].Chunk.ID).Equal(model.ChunkID("best"))
		gt.Value(t, results[1].Chunk.ID).Equal(model.ChunkID("early"))
	})

	t.Run("retries once on transient failure", func(t *testing.T) {
		var calls atomic.Int32
		adapter := vectorstore.New(&mockChunkRepository{
			findSimilarFn: func(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
				if calls.Add(1) == 1 {
					return nil, syscall.ECONNRESET
				}
				return []*model.ScoredChunk{}, nil
			},
		})

		_, err := adapter.Search(ctx, vectorstore.SearchQuery{Vector: queryVector(), Threshold: 0.5, Limit: 5})
		gt.NoError(t, err)
		gt.Number(t, calls.Load()).Equal(2)
	})

	t.Run("surfaces vector store failure after one retry", func(t *testing.T) {
		var calls atomic.Int32
		adapter := vectorstore.New(&mockChunkRepository{
			findSimilarFn: func(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
				calls.Add(1)
				return nil, syscall.ECONNRESET
			},
		})

		_, err := adapter.Search(ctx, vectorstore.SearchQuery{Vector: queryVector(), Threshold: 0.5, Limit: 5})
		gt.Error(t, err).Is(vectorstore.ErrVectorStore)
		gt.Number(t, calls.Load()).Equal(2)
	})

	t.Run("does not retry permanent failure", func(t *testing.T) {
		var calls atomic.Int32
		adapter := vectorstore.New(&mockChunkRepository{
			findSimilarFn: func(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
				calls.Add(1)
				return nil, errors.New("syntax error")
			},
		})

		_, err := adapter.Search(ctx, vectorstore.SearchQuery{Vector: queryVector(), Threshold: 0.5, Limit: 5})
		gt.Error(t, err).Is(vectorstore.ErrVectorStore)
		gt.Number(t, calls.Load()).Equal(1)
	})

	t.Run("rejects wrong query dimension", func(t *testing.T) {
		adapter := vectorstore.New(memory.New().Chunk())
		_, err := adapter.Search(ctx, vectorstore.SearchQuery{Vector: []float32{1, 0}, Threshold: 0.5, Limit: 5})
		gt.Error(t, err).Is(vectorstore.ErrInvalidDimension)
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		adapter := vectorstore.New(memory.New().Chunk())
		_, err := adapter.Search(ctx, vectorstore.SearchQuery{Vector: queryVector(), Threshold: 0.5})
		gt.Error(t, err).Is(vectorstore.ErrInvalidQuery)
	})
}

func TestAdapter_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("owner can delete", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())
		id, err := adapter.Insert(ctx, "user-a", &model.DocumentChunk{OwnerID: "user-a", Text: "x", Embedding: queryVector()})
		gt.NoError(t, err).Required()

		gt.NoError(t, adapter.Delete(ctx, id, "user-a")).Required()
		_, err = repo.Chunk().Get(ctx, id)
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("other owner gets authorization failure", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())
		id, err := adapter.Insert(ctx, "user-a", &model.DocumentChunk{OwnerID: "user-a", Text: "x", Embedding: queryVector()})
		gt.NoError(t, err).Required()

		gt.Error(t, adapter.Delete(ctx, id, "user-b")).Is(vectorstore.ErrAuthorization)

		_, err = repo.Chunk().Get(ctx, id)
		gt.NoError(t, err)
	})

	t.Run("unknown chunk is not found", func(t *testing.T) {
		adapter := vectorstore.New(memory.New().Chunk())
		err := adapter.Delete(ctx, model.NewChunkID(), "user-a")
		gt.Error(t, err).Is(interfaces.ErrNotFound)
		gt.Bool(t, errors.Is(err, vectorstore.ErrVectorStore)).False()
	})

	t.Run("DeleteBySource only touches requester's chunks", func(t *testing.T) {
		repo := memory.New()
		adapter := vectorstore.New(repo.Chunk())
		docID := model.NewDocumentID()

		for _, owner := range []types.OwnerID{"user-a", "user-a", "user-b"} {
			_, err := adapter.Insert(ctx, owner, &model.DocumentChunk{
				OwnerID: owner, DocumentID: docID, Text: "x", Embedding: queryVector(),
			})
			gt.NoError(t, err).Required()
		}

		n, err := adapter.DeleteBySource(ctx, docID, "user-a")
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(2)

		left, err := adapter.ListByOwner(ctx, "user-b")
		gt.NoError(t, err).Required()
		gt.Array(t, left).Length(1)
	})
}
