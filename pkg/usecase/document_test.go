package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/repository/memory"
	"github.com/secmon-lab/asclepius/pkg/service/blob"
	"github.com/secmon-lab/asclepius/pkg/service/embedding"
	"github.com/secmon-lab/asclepius/pkg/usecase"
)

type documentFixture struct {
	uc         *usecase.UseCases
	repo       *memory.Memory
	blob       *blob.Memory
	embedder   *mockEmbedder
	dispatcher *inlineDispatcher
}

func newDocumentFixture() *documentFixture {
	f := &documentFixture{
		repo:       memory.New(),
		blob:       blob.NewMemory(),
		embedder:   constantEmbedder(),
		dispatcher: &inlineDispatcher{},
	}
	f.uc = usecase.New(f.repo,
		usecase.WithEmbedder(f.embedder),
		usecase.WithBlobStorage(f.blob),
		usecase.WithDispatcher(f.dispatcher),
	)
	return f
}

func TestDocumentUseCase_Upload(t *testing.T) {
	ctx := context.Background()
	caller := model.Caller{OwnerID: "user-a", Token: "token-a"}

	t.Run("processes markdown into chunks", func(t *testing.T) {
		f := newDocumentFixture()
		body := "# Hypertension\n\n" + strings.Repeat("Blood pressure above 140/90 mmHg. ", 150)

		job, err := f.uc.Document.Upload(ctx, caller, usecase.UploadInput{
			Filename: "hypertension.md",
			Body:     strings.NewReader(body),
			Metadata: map[string]any{"category": "cardiology"},
		})
		gt.NoError(t, err).Required()
		gt.Value(t, job.Status).Equal(types.JobStatusPending)
		gt.Value(t, job.FilePath).Equal("docs/" + string(job.DocumentID) + "/hypertension.md")

		ct, ok := f.blob.ContentType(job.FilePath)
		gt.Bool(t, ok).True()
		gt.Value(t, ct).Equal("text/markdown")

		done, err := f.uc.Document.GetJob(ctx, caller, job.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, done.Status).Equal(types.JobStatusCompleted)
		gt.Number(t, done.ChunkCount).Equal(3)
		gt.Value(t, done.Error).Equal("")

		chunks, err := f.uc.Document.ListChunks(ctx, caller)
		gt.NoError(t, err).Required()
		gt.Array(t, chunks).Length(3).Required()
		gt.Number(t, f.embedder.calls.Load()).Equal(3)

		indexes := make(map[any]bool)
		for _, c := range chunks {
			gt.Value(t, c.OwnerID).Equal(caller.OwnerID)
			gt.Value(t, c.DocumentID).Equal(job.DocumentID)
			gt.Value(t, c.SourceName).Equal("hypertension.md")
			gt.Array(t, c.Embedding).Length(model.EmbeddingDimension)
			gt.Value(t, c.Metadata[model.MetaDocumentID]).Equal(any(string(job.DocumentID)))
			gt.Value(t, c.Metadata[model.MetaContentType]).Equal(any("text/markdown"))
			gt.Bool(t, strings.Contains(c.Text, "#")).False()
			indexes[c.Metadata[model.MetaChunkIndex]] = true
		}
		gt.Bool(t, indexes[0] && indexes[1] && indexes[2]).True()
	})

	t.Run("rejects unsupported format", func(t *testing.T) {
		f := newDocumentFixture()
		_, err := f.uc.Document.Upload(ctx, caller, usecase.UploadInput{
			Filename: "scan.pdf",
			Body:     strings.NewReader("%PDF-1.4"),
		})
		gt.Error(t, err).Is(usecase.ErrInvalidInput)

		jobs, err := f.uc.Document.ListJobs(ctx, caller)
		gt.NoError(t, err).Required()
		gt.Array(t, jobs).Length(0)
	})

	t.Run("rejects empty file", func(t *testing.T) {
		f := newDocumentFixture()
		_, err := f.uc.Document.Upload(ctx, caller, usecase.UploadInput{
			Filename: "empty.txt",
			Body:     strings.NewReader(""),
		})
		gt.Error(t, err).Is(usecase.ErrInvalidInput)
	})

	t.Run("embedding failure fails the job and stores no chunks", func(t *testing.T) {
		f := newDocumentFixture()
		f.embedder.embedFn = func(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
			return nil, goerr.Wrap(errors.Join(embedding.ErrEmbeddingFailure, embedding.ErrInvalidDimension), "dimension mismatch")
		}

		job, err := f.uc.Document.Upload(ctx, caller, usecase.UploadInput{
			Filename: "notes.txt",
			Body:     strings.NewReader("short note"),
		})
		gt.NoError(t, err).Required()

		failed, err := f.uc.Document.GetJob(ctx, caller, job.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, failed.Status).Equal(types.JobStatusFailed)
		gt.String(t, failed.Error).Contains("dimension mismatch")

		gt.Array(t, f.dispatcher.errs).Length(1).Required()
		gt.Error(t, f.dispatcher.errs[0]).Is(usecase.ErrEmbeddingFailure)

		chunks, err := f.uc.Document.ListChunks(ctx, caller)
		gt.NoError(t, err).Required()
		gt.Array(t, chunks).Length(0)
	})

	t.Run("job of another owner is not visible", func(t *testing.T) {
		f := newDocumentFixture()
		job, err := f.uc.Document.Upload(ctx, caller, usecase.UploadInput{
			Filename: "notes.txt",
			Body:     strings.NewReader("short note"),
		})
		gt.NoError(t, err).Required()

		_, err = f.uc.Document.GetJob(ctx, model.Caller{OwnerID: "user-b"}, job.ID)
		gt.Error(t, err).Is(usecase.ErrNotFound)
	})
}

func TestDocumentUseCase_Delete(t *testing.T) {
	ctx := context.Background()
	owner := model.Caller{OwnerID: "user-a"}
	other := model.Caller{OwnerID: "user-b"}

	upload := func(t *testing.T, f *documentFixture) *model.EmbeddingJob {
		t.Helper()
		job, err := f.uc.Document.Upload(ctx, owner, usecase.UploadInput{
			Filename: "notes.txt",
			Body:     strings.NewReader(strings.Repeat("x", 4000)),
		})
		gt.NoError(t, err).Required()
		return job
	}

	t.Run("DeleteDocument removes chunks and raw file", func(t *testing.T) {
		f := newDocumentFixture()
		job := upload(t, f)

		n, err := f.uc.Document.DeleteDocument(ctx, owner, job.DocumentID)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(3)

		chunks, err := f.uc.Document.ListChunks(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Array(t, chunks).Length(0)

		_, err = f.blob.Get(ctx, job.FilePath)
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("DeleteDocument by another owner touches nothing", func(t *testing.T) {
		f := newDocumentFixture()
		job := upload(t, f)

		_, err := f.uc.Document.DeleteDocument(ctx, other, job.DocumentID)
		gt.Error(t, err).Is(usecase.ErrNotFound)

		chunks, err := f.uc.Document.ListChunks(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Array(t, chunks).Length(3)
	})

	t.Run("DeleteChunk enforces ownership", func(t *testing.T) {
		f := newDocumentFixture()
		upload(t, f)

		chunks, err := f.uc.Document.ListChunks(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Array(t, chunks).Length(3).Required()

		gt.Error(t, f.uc.Document.DeleteChunk(ctx, other, chunks[0].ID)).Is(usecase.ErrAuthorization)
		gt.NoError(t, f.uc.Document.DeleteChunk(ctx, owner, chunks[0].ID)).Required()

		left, err := f.uc.Document.ListChunks(ctx, owner)
		gt.NoError(t, err).Required()
		gt.Array(t, left).Length(2)
	})
}
