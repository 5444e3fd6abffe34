package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/model/config"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/service/blob"
	"github.com/secmon-lab/asclepius/pkg/service/chunker"
	"github.com/secmon-lab/asclepius/pkg/service/extract"
	"github.com/secmon-lab/asclepius/pkg/service/vectorstore"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// MaxUploadSize is the largest accepted upload in bytes
const MaxUploadSize = 10 << 20

// UploadInput is one uploaded file
type UploadInput struct {
	Filename string
	Body     io.Reader
	Metadata map[string]any
}

type DocumentUseCase struct {
	repo       interfaces.Repository
	store      *vectorstore.Adapter
	embedder   interfaces.Embedder
	blob       interfaces.BlobStorage
	dispatcher Dispatcher
	cfg        *config.RAGConfig
}

func NewDocumentUseCase(repo interfaces.Repository, store *vectorstore.Adapter, embedder interfaces.Embedder, blobStorage interfaces.BlobStorage, dispatcher Dispatcher, cfg *config.RAGConfig) *DocumentUseCase {
	if cfg == nil {
		cfg = config.DefaultRAGConfig()
	}
	return &DocumentUseCase{
		repo:       repo,
		store:      store,
		embedder:   embedder,
		blob:       blobStorage,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Upload stores the raw file, creates a pending job and processes it in the background.
// The returned job can be polled with GetJob.
func (uc *DocumentUseCase) Upload(ctx context.Context, caller model.Caller, in UploadInput) (*model.EmbeddingJob, error) {
	if caller.IsZero() {
		return nil, goerr.Wrap(ErrAuthentication, "caller identity is required")
	}

	filename := filepath.Base(strings.ReplaceAll(in.Filename, "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, goerr.Wrap(ErrInvalidInput, "filename is required")
	}
	contentType, err := extract.ContentType(filename)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(ErrInvalidInput, err), "unsupported file type", goerr.V("filename", filename))
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, MaxUploadSize+1))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read upload", goerr.V("filename", filename))
	}
	if len(data) > MaxUploadSize {
		return nil, goerr.Wrap(ErrInvalidInput, "file is too large",
			goerr.V("filename", filename), goerr.V("max_size", MaxUploadSize))
	}
	if len(data) == 0 {
		return nil, goerr.Wrap(ErrInvalidInput, "file is empty", goerr.V("filename", filename))
	}

	docID := model.NewDocumentID()
	path := model.BlobPath(docID, filename)
	if err := uc.blob.Put(ctx, path, bytes.NewReader(data), contentType); err != nil {
		return nil, goerr.Wrap(err, "failed to store upload", goerr.V("path", path))
	}

	meta := make(map[string]any, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta[model.MetaContentType] = contentType
	meta["size"] = len(data)

	job, err := uc.repo.Job().Create(ctx, &model.EmbeddingJob{
		OwnerID:    caller.OwnerID,
		DocumentID: docID,
		FilePath:   path,
		FileName:   filename,
		Status:     types.JobStatusPending,
		Metadata:   meta,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding job", goerr.V(DocumentIDKey, docID))
	}

	logging.From(ctx).Info("document uploaded",
		"owner_id", caller.OwnerID,
		"job_id", job.ID,
		"document_id", docID,
		"filename", filename,
		"size", len(data),
	)

	jobID := job.ID
	uc.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return uc.Process(ctx, caller, jobID)
	})

	return job, nil
}

// Process runs extraction, chunking, embedding and insertion for a pending job and
// records the outcome on the job.
func (uc *DocumentUseCase) Process(ctx context.Context, caller model.Caller, jobID model.JobID) error {
	job, err := uc.repo.Job().Get(ctx, jobID)
	if err != nil {
		return goerr.Wrap(err, "failed to get embedding job", goerr.V(JobIDKey, jobID))
	}
	if job.Status.IsFinal() {
		return nil
	}

	job.Status = types.JobStatusProcessing
	if err := uc.repo.Job().Update(ctx, job); err != nil {
		return goerr.Wrap(err, "failed to mark job processing", goerr.V(JobIDKey, jobID))
	}

	count, err := uc.ingest(ctx, caller, job)
	if err != nil {
		job.Status = types.JobStatusFailed
		job.Error = err.Error()
		if updateErr := uc.repo.Job().Update(ctx, job); updateErr != nil {
			return goerr.Wrap(errors.Join(err, updateErr), "failed to mark job failed", goerr.V(JobIDKey, jobID))
		}
		return goerr.Wrap(err, "embedding job failed", goerr.V(JobIDKey, jobID), goerr.V(OwnerIDKey, caller.OwnerID))
	}

	job.Status = types.JobStatusCompleted
	job.ChunkCount = count
	job.Error = ""
	if err := uc.repo.Job().Update(ctx, job); err != nil {
		return goerr.Wrap(err, "failed to mark job completed", goerr.V(JobIDKey, jobID))
	}

	logging.From(ctx).Info("embedding job completed",
		"job_id", job.ID, "document_id", job.DocumentID, "chunks", count)
	return nil
}

func (uc *DocumentUseCase) ingest(ctx context.Context, caller model.Caller, job *model.EmbeddingJob) (int, error) {
	if uc.embedder == nil {
		return 0, goerr.Wrap(ErrConfiguration, "no embedder configured")
	}

	data, err := blob.ReadAll(ctx, uc.blob, job.FilePath)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to load upload", goerr.V("path", job.FilePath))
	}

	text, err := extract.Text(job.FileName, data)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to extract text", goerr.V("filename", job.FileName))
	}

	spans := chunker.Split(text,
		chunker.WithSize(uc.cfg.ChunkSize),
		chunker.WithOverlap(uc.cfg.ChunkOverlap),
	)

	embeddings := make([][]float32, len(spans))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(uc.cfg.EmbedConcurrency, 1))
	for i, span := range spans {
		eg.Go(func() error {
			vec, err := uc.embedder.Embed(egCtx, caller, span.Text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed chunk", goerr.V("chunk_index", i))
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	contentType, _ := job.Metadata[model.MetaContentType].(string)
	for i, span := range spans {
		meta := map[string]any{
			model.MetaChunkIndex:  i,
			model.MetaStartOffset: span.Start,
			model.MetaEndOffset:   span.End,
			model.MetaDocumentID:  string(job.DocumentID),
			model.MetaCharCount:   span.End - span.Start,
			model.MetaLineCount:   strings.Count(span.Text, "\n") + 1,
		}
		if contentType != "" {
			meta[model.MetaContentType] = contentType
		}

		_, err := uc.store.Insert(ctx, caller.OwnerID, &model.DocumentChunk{
			OwnerID:    caller.OwnerID,
			DocumentID: job.DocumentID,
			SourceName: job.FileName,
			Text:       span.Text,
			Embedding:  embeddings[i],
			Metadata:   meta,
		})
		if err != nil {
			if _, cleanupErr := uc.store.DeleteBySource(ctx, job.DocumentID, caller.OwnerID); cleanupErr != nil {
				err = errors.Join(err, cleanupErr)
			}
			return 0, goerr.Wrap(err, "failed to insert chunk", goerr.V("chunk_index", i))
		}
	}

	return len(spans), nil
}

// GetJob returns a job owned by the caller. Jobs of other owners are reported as not found.
func (uc *DocumentUseCase) GetJob(ctx context.Context, caller model.Caller, jobID model.JobID) (*model.EmbeddingJob, error) {
	job, err := uc.repo.Job().Get(ctx, jobID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get job", goerr.V(JobIDKey, jobID))
	}
	if job.OwnerID != caller.OwnerID {
		return nil, goerr.Wrap(ErrNotFound, "job not found", goerr.V(JobIDKey, jobID))
	}
	return job, nil
}

func (uc *DocumentUseCase) ListJobs(ctx context.Context, caller model.Caller) ([]*model.EmbeddingJob, error) {
	jobs, err := uc.repo.Job().ListByOwner(ctx, caller.OwnerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list jobs", goerr.V(OwnerIDKey, caller.OwnerID))
	}
	return jobs, nil
}

func (uc *DocumentUseCase) ListChunks(ctx context.Context, caller model.Caller) ([]*model.DocumentChunk, error) {
	return uc.store.ListByOwner(ctx, caller.OwnerID)
}

// DeleteChunk removes one chunk owned by the caller
func (uc *DocumentUseCase) DeleteChunk(ctx context.Context, caller model.Caller, chunkID model.ChunkID) error {
	if err := uc.store.Delete(ctx, chunkID, caller.OwnerID); err != nil {
		return goerr.Wrap(err, "failed to delete chunk", goerr.V(ChunkIDKey, chunkID))
	}
	return nil
}

// DeleteDocument removes every chunk and the raw upload of one document owned by the caller.
// It returns the number of chunks removed.
func (uc *DocumentUseCase) DeleteDocument(ctx context.Context, caller model.Caller, docID model.DocumentID) (int, error) {
	jobs, err := uc.repo.Job().ListByOwner(ctx, caller.OwnerID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list jobs", goerr.V(OwnerIDKey, caller.OwnerID))
	}

	removed, err := uc.store.DeleteBySource(ctx, docID, caller.OwnerID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete document chunks", goerr.V(DocumentIDKey, docID))
	}

	found := removed > 0
	for _, job := range jobs {
		if job.DocumentID != docID {
			continue
		}
		found = true
		if err := uc.blob.Delete(ctx, job.FilePath); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return removed, goerr.Wrap(err, "failed to delete upload", goerr.V("path", job.FilePath))
		}
	}

	if !found {
		return 0, goerr.Wrap(ErrNotFound, "document not found", goerr.V(DocumentIDKey, docID))
	}

	logging.From(ctx).Info("document deleted",
		"owner_id", caller.OwnerID, "document_id", docID, "chunks", removed)
	return removed, nil
}
