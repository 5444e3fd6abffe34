package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

func runJobRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Create and Get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwnerID()
		docID := model.NewDocumentID()

		created, err := repo.Job().Create(ctx, &model.EmbeddingJob{
			OwnerID:    owner,
			DocumentID: docID,
			FilePath:   model.BlobPath(docID, "notes.md"),
			FileName:   "notes.md",
			Status:     types.JobStatusPending,
			Metadata:   map[string]any{"category": "cardiology"},
		})
		gt.NoError(t, err).Required()
		gt.Value(t, created.ID).NotEqual(model.JobID(""))
		gt.Bool(t, created.CreatedAt.IsZero()).False()

		got, err := repo.Job().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.OwnerID).Equal(owner)
		gt.Value(t, got.DocumentID).Equal(docID)
		gt.Value(t, got.FilePath).Equal("docs/" + string(docID) + "/notes.md")
		gt.Value(t, got.Status).Equal(types.JobStatusPending)
		gt.Value(t, got.Metadata["category"]).Equal(any("cardiology"))
	})

	t.Run("Get returns ErrNotFound for unknown ID", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Job().Get(context.Background(), model.NewJobID())
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("Update changes status", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Job().Create(ctx, &model.EmbeddingJob{
			OwnerID:  newOwnerID(),
			FilePath: "docs/x/a.txt",
			FileName: "a.txt",
			Status:   types.JobStatusPending,
		})
		gt.NoError(t, err).Required()

		created.Status = types.JobStatusCompleted
		created.ChunkCount = 3
		gt.NoError(t, repo.Job().Update(ctx, created)).Required()

		got, err := repo.Job().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.JobStatusCompleted)
		gt.Number(t, got.ChunkCount).Equal(3)
	})

	t.Run("Update returns ErrNotFound for unknown job", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Job().Update(context.Background(), &model.EmbeddingJob{
			ID: model.NewJobID(), OwnerID: newOwnerID(), Status: types.JobStatusFailed,
		})
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("ListByOwner returns only the owner's jobs newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		owner := newOwnerID()
		base := time.Now().UTC().Truncate(time.Millisecond)

		for i, name := range []string{"old.txt", "new.txt"} {
			_, err := repo.Job().Create(ctx, &model.EmbeddingJob{
				OwnerID:   owner,
				FilePath:  "docs/x/" + name,
				FileName:  name,
				Status:    types.JobStatusPending,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
			gt.NoError(t, err).Required()
		}
		_, err := repo.Job().Create(ctx, &model.EmbeddingJob{
			OwnerID: newOwnerID(), FilePath: "docs/y/other.txt", FileName: "other.txt", Status: types.JobStatusPending,
		})
		gt.NoError(t, err).Required()

		jobs, err := repo.Job().ListByOwner(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Array(t, jobs).Length(2).Required()
		gt.Value(t, jobs[0].FileName).Equal("new.txt")
		gt.Value(t, jobs[1].FileName).Equal("old.txt")
	})
}

func TestMemoryJobRepository(t *testing.T) {
	runJobRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreJobRepository(t *testing.T) {
	runJobRepositoryTest(t, newFirestoreRepository)
}

func TestPostgresJobRepository(t *testing.T) {
	runJobRepositoryTest(t, newPostgresRepository)
}
