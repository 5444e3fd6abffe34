package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// jobRow is one upload in the embedding_jobs table
type jobRow struct {
	ID         string         `gorm:"column:id;type:text;primaryKey"`
	OwnerID    string         `gorm:"column:owner_id;type:text;not null;index"`
	DocumentID string         `gorm:"column:document_id;type:text"`
	FilePath   string         `gorm:"column:file_path;type:text;not null"`
	FileName   string         `gorm:"column:file_name;type:text"`
	Status     string         `gorm:"column:status;type:text;not null"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:jsonb"`
	ChunkCount int            `gorm:"column:chunk_count"`
	Error      string         `gorm:"column:error;type:text"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func (jobRow) TableName() string { return "embedding_jobs" }

func toJobRow(j *model.EmbeddingJob) (*jobRow, error) {
	row := &jobRow{
		ID:         string(j.ID),
		OwnerID:    string(j.OwnerID),
		DocumentID: string(j.DocumentID),
		FilePath:   j.FilePath,
		FileName:   j.FileName,
		Status:     j.Status.String(),
		ChunkCount: j.ChunkCount,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.Metadata != nil {
		raw, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal job metadata", goerr.V("id", j.ID))
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return row, nil
}

func (r *jobRow) toModel() (*model.EmbeddingJob, error) {
	j := &model.EmbeddingJob{
		ID:         model.JobID(r.ID),
		OwnerID:    types.OwnerID(r.OwnerID),
		DocumentID: model.DocumentID(r.DocumentID),
		FilePath:   r.FilePath,
		FileName:   r.FileName,
		Status:     types.JobStatus(r.Status),
		ChunkCount: r.ChunkCount,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal job metadata", goerr.V("id", r.ID))
		}
		j.Metadata = normalizeMetadata(meta)
	}
	return j, nil
}

type jobRepository struct {
	db *gorm.DB
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

	row, err := toJobRow(created)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to insert job", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *jobRepository) Get(ctx context.Context, id model.JobID) (*model.EmbeddingJob, error) {
	var row jobRow
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get job", goerr.V("id", id))
	}
	return row.toModel()
}

func (r *jobRepository) Update(ctx context.Context, job *model.EmbeddingJob) error {
	updated := job.Copy()
	updated.UpdatedAt = time.Now().UTC()

	row, err := toJobRow(updated)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", row.ID).Updates(map[string]any{
		"status":      row.Status,
		"metadata":    row.Metadata,
		"chunk_count": row.ChunkCount,
		"error":       row.Error,
		"updated_at":  row.UpdatedAt,
	})
	if result.Error != nil {
		return goerr.Wrap(result.Error, "failed to update job", goerr.V("id", job.ID))
	}
	if result.RowsAffected == 0 {
		return goerr.Wrap(ErrNotFound, "job not found", goerr.V("id", job.ID))
	}
	return nil
}

func (r *jobRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.EmbeddingJob, error) {
	var rows []jobRow
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", string(ownerID)).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list jobs", goerr.V("owner_id", ownerID))
	}

	result := make([]*model.EmbeddingJob, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, nil
}
