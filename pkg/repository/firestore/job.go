package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type jobDoc struct {
	ID         string         `firestore:"ID"`
	OwnerID    string         `firestore:"OwnerID"`
	DocumentID string         `firestore:"DocumentID"`
	FilePath   string         `firestore:"FilePath"`
	FileName   string         `firestore:"FileName"`
	Status     string         `firestore:"Status"`
	Metadata   map[string]any `firestore:"Metadata"`
	ChunkCount int            `firestore:"ChunkCount"`
	Error      string         `firestore:"Error"`
	CreatedAt  time.Time      `firestore:"CreatedAt"`
	UpdatedAt  time.Time      `firestore:"UpdatedAt"`
}

func toJobDoc(j *model.EmbeddingJob) *jobDoc {
	return &jobDoc{
		ID:         string(j.ID),
		OwnerID:    string(j.OwnerID),
		DocumentID: string(j.DocumentID),
		FilePath:   j.FilePath,
		FileName:   j.FileName,
		Status:     string(j.Status),
		Metadata:   j.Metadata,
		ChunkCount: j.ChunkCount,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func fromJobDoc(d *jobDoc) *model.EmbeddingJob {
	return &model.EmbeddingJob{
		ID:         model.JobID(d.ID),
		OwnerID:    types.OwnerID(d.OwnerID),
		DocumentID: model.DocumentID(d.DocumentID),
		FilePath:   d.FilePath,
		FileName:   d.FileName,
		Status:     types.JobStatus(d.Status),
		Metadata:   normalizeMetadata(d.Metadata),
		ChunkCount: d.ChunkCount,
		Error:      d.Error,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type jobRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newJobRepository(client *firestore.Client) *jobRepository {
	return &jobRepository{client: client}
}

func (r *jobRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + CollectionJobs)
}

func (r *jobRepository) Create(ctx context.Context, job *model.EmbeddingJob) (*model.EmbeddingJob, error) {
	created := job.Copy()
	now := time.Now().UTC()
	if created.ID == "" {
		created.ID = model.NewJobID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now

	if _, err := r.collection().Doc(string(created.ID)).Create(ctx, toJobDoc(created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create job", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *jobRepository) Get(ctx context.Context, id model.JobID) (*model.EmbeddingJob, error) {
	doc, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get job", goerr.V("id", id))
	}

	var d jobDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal job", goerr.V("id", id))
	}
	return fromJobDoc(&d), nil
}

func (r *jobRepository) Update(ctx context.Context, job *model.EmbeddingJob) error {
	docRef := r.collection().Doc(string(job.ID))
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", job.ID))
		}
		return goerr.Wrap(err, "failed to get job", goerr.V("id", job.ID))
	}

	updated := job.Copy()
	updated.UpdatedAt = time.Now().UTC()
	if _, err := docRef.Set(ctx, toJobDoc(updated)); err != nil {
		return goerr.Wrap(err, "failed to update job", goerr.V("id", job.ID))
	}
	return nil
}

func (r *jobRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.EmbeddingJob, error) {
	iter := r.collection().
		Where("OwnerID", "==", string(ownerID)).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	jobs := make([]*model.EmbeddingJob, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate jobs", goerr.V("ownerID", ownerID))
		}

		var d jobDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal job")
		}
		jobs = append(jobs, fromJobDoc(&d))
	}
	return jobs, nil
}
