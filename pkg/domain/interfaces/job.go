package interfaces

import (
	"context"

	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// JobRepository persists embedding jobs
type JobRepository interface {
	Create(ctx context.Context, job *model.EmbeddingJob) (*model.EmbeddingJob, error)
	Get(ctx context.Context, id model.JobID) (*model.EmbeddingJob, error)
	Update(ctx context.Context, job *model.EmbeddingJob) error
	ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.EmbeddingJob, error)
}
