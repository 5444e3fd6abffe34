package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

type jobRepository struct {
	mu   sync.RWMutex
	jobs map[model.JobID]*model.EmbeddingJob
}

func newJobRepository() *jobRepository {
	return &jobRepository{
		jobs: make(map[model.JobID]*model.EmbeddingJob),
	}
}

func (r *jobRepository) Create(ctx context.Context, job *model.EmbeddingJob) (*model.EmbeddingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := job.Copy()
	now := time.Now().UTC()
	if created.ID == "" {
		created.ID = model.NewJobID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now

	r.jobs[created.ID] = created
	return created.Copy(), nil
}

func (r *jobRepository) Get(ctx context.Context, id model.JobID) (*model.EmbeddingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", id))
	}
	return job.Copy(), nil
}

func (r *jobRepository) Update(ctx context.Context, job *model.EmbeddingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", job.ID))
	}
	updated := job.Copy()
	updated.UpdatedAt = time.Now().UTC()
	r.jobs[job.ID] = updated
	return nil
}

func (r *jobRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.EmbeddingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.EmbeddingJob, 0)
	for _, j := range r.jobs {
		if j.OwnerID == ownerID {
			result = append(result, j.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
