package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/safe"
)

// multipart overhead allowed on top of the file size limit
const multipartOverhead = 1 << 20

type uploadResponse struct {
	JobID      model.JobID      `json:"job_id"`
	DocumentID model.DocumentID `json:"document_id"`
	Status     types.JobStatus  `json:"status"`
}

type jobResponse struct {
	ID         model.JobID      `json:"id"`
	DocumentID model.DocumentID `json:"document_id"`
	FileName   string           `json:"file_name"`
	Status     types.JobStatus  `json:"status"`
	ChunkCount int              `json:"chunk_count"`
	Error      string           `json:"error,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type jobListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

// chunkResponse omits the embedding
type chunkResponse struct {
	ID         model.ChunkID    `json:"id"`
	DocumentID model.DocumentID `json:"document_id"`
	Filename   string           `json:"filename"`
	Content    string           `json:"content"`
	Metadata   map[string]any   `json:"metadata"`
	CreatedAt  time.Time        `json:"created_at"`
}

type chunkListResponse struct {
	Chunks []chunkResponse `json:"chunks"`
}

type deleteDocumentResponse struct {
	DocumentID model.DocumentID `json:"document_id"`
	Deleted    int              `json:"deleted"`
}

func toJobResponse(j *model.EmbeddingJob) jobResponse {
	return jobResponse{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		FileName:   j.FileName,
		Status:     j.Status,
		ChunkCount: j.ChunkCount,
		Error:      j.Error,
		Metadata:   j.Metadata,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func documentUploadHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, usecase.MaxUploadSize+multipartOverhead)

		file, header, err := r.FormFile("file")
		if err != nil {
			handleError(w, r, goerr.Wrap(errors.Join(usecase.ErrInvalidInput, err), "multipart field \"file\" is required"))
			return
		}
		defer safe.Close(r.Context(), file)

		job, err := uc.Upload(r.Context(), callerOf(r), usecase.UploadInput{
			Filename: header.Filename,
			Body:     file,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(r.Context(), w, http.StatusAccepted, uploadResponse{
			JobID:      job.ID,
			DocumentID: job.DocumentID,
			Status:     job.Status,
		})
	}
}

func documentDeleteHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := model.DocumentID(chi.URLParam(r, "documentID"))

		n, err := uc.DeleteDocument(r.Context(), callerOf(r), docID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, deleteDocumentResponse{DocumentID: docID, Deleted: n})
	}
}

func jobListHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := uc.ListJobs(r.Context(), callerOf(r))
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := jobListResponse{Jobs: make([]jobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = toJobResponse(j)
		}
		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

func jobGetHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := uc.GetJob(r.Context(), callerOf(r), model.JobID(chi.URLParam(r, "jobID")))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, toJobResponse(job))
	}
}

func chunkListHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunks, err := uc.ListChunks(r.Context(), callerOf(r))
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := chunkListResponse{Chunks: make([]chunkResponse, len(chunks))}
		for i, c := range chunks {
			resp.Chunks[i] = chunkResponse{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Filename:   c.SourceName,
				Content:    c.Text,
				Metadata:   c.Metadata,
				CreatedAt:  c.CreatedAt,
			}
		}
		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

func chunkDeleteHandler(uc *usecase.DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := uc.DeleteChunk(r.Context(), callerOf(r), model.ChunkID(chi.URLParam(r, "chunkID"))); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
