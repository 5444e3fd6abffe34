package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultSearchLimit = 10

// documentRow is one chunk in the documents table
type documentRow struct {
	ID         string           `gorm:"column:id;type:text;primaryKey"`
	OwnerID    string           `gorm:"column:owner_id;type:text;not null;index"`
	DocumentID string           `gorm:"column:document_id;type:text;index"`
	Filename   string           `gorm:"column:filename;type:text;not null"`
	Content    string           `gorm:"column:content;type:text;not null"`
	Embedding  *pgvector.Vector `gorm:"column:embedding;type:vector(768)"`
	Metadata   datatypes.JSON   `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time        `gorm:"column:created_at;not null"`
}

func (documentRow) TableName() string { return "documents" }

// matchRow is one row returned by match_documents
type matchRow struct {
	documentRow
	Similarity float64 `gorm:"column:similarity"`
}

type chunkRepository struct {
	db *gorm.DB
}

func toDocumentRow(c *model.DocumentChunk) (*documentRow, error) {
	row := &documentRow{
		ID:         string(c.ID),
		OwnerID:    string(c.OwnerID),
		DocumentID: string(c.DocumentID),
		Filename:   c.SourceName,
		Content:    c.Text,
		CreatedAt:  c.CreatedAt,
	}
	if c.HasEmbedding() {
		v := pgvector.NewVector(c.Embedding)
		row.Embedding = &v
	}
	if c.Metadata != nil {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal chunk metadata", goerr.V("id", c.ID))
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return row, nil
}

func (r *documentRow) toModel() (*model.DocumentChunk, error) {
	c := &model.DocumentChunk{
		ID:         model.ChunkID(r.ID),
		OwnerID:    types.OwnerID(r.OwnerID),
		DocumentID: model.DocumentID(r.DocumentID),
		SourceName: r.Filename,
		Text:       r.Content,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.Embedding != nil {
		c.Embedding = r.Embedding.Slice()
	}
	if len(r.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal chunk metadata", goerr.V("id", r.ID))
		}
		c.Metadata = normalizeMetadata(meta)
	}
	return c, nil
}

// integerMetadataKeys are the metadata keys the chunker writes as int
var integerMetadataKeys = []string{
	model.MetaChunkIndex,
	model.MetaStartOffset,
	model.MetaEndOffset,
	model.MetaCharCount,
	model.MetaLineCount,
}

// normalizeMetadata turns the JSON numbers of integerMetadataKeys back into int.
// Other values are left as decoded.
func normalizeMetadata(meta map[string]any) map[string]any {
	for _, k := range integerMetadataKeys {
		if f, ok := meta[k].(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			meta[k] = int(f)
		}
	}
	return meta
}

func (r *chunkRepository) Create(ctx context.Context, chunk *model.DocumentChunk) (*model.DocumentChunk, error) {
	created := chunk.Copy()
	if created.ID == "" {
		created.ID = model.NewChunkID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	row, err := toDocumentRow(created)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to insert chunk", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *chunkRepository) Get(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error) {
	var row documentRow
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get chunk", goerr.V("id", id))
	}
	return row.toModel()
}

func (r *chunkRepository) Delete(ctx context.Context, id model.ChunkID) error {
	result := r.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&documentRow{})
	if result.Error != nil {
		return goerr.Wrap(result.Error, "failed to delete chunk", goerr.V("id", id))
	}
	if result.RowsAffected == 0 {
		return goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
	}
	return nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, ownerID types.OwnerID, docID model.DocumentID) (int, error) {
	result := r.db.WithContext(ctx).
		Where("owner_id = ? AND document_id = ?", string(ownerID), string(docID)).
		Delete(&documentRow{})
	if result.Error != nil {
		return 0, goerr.Wrap(result.Error, "failed to delete document chunks",
			goerr.V("owner_id", ownerID), goerr.V("document_id", docID))
	}
	return int(result.RowsAffected), nil
}

func (r *chunkRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.DocumentChunk, error) {
	var rows []documentRow
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", string(ownerID)).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list chunks", goerr.V("owner_id", ownerID))
	}

	result := make([]*model.DocumentChunk, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *chunkRepository) FindSimilar(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
	if len(q.Embedding) == 0 {
		return nil, goerr.New("query embedding is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var owner *string
	if q.OwnerID != "" {
		s := string(q.OwnerID)
		owner = &s
	}

	var rows []matchRow
	if err := r.db.WithContext(ctx).
		Raw("SELECT * FROM match_documents(?::vector, ?, ?, ?)",
			pgvector.NewVector(q.Embedding), q.Threshold, limit, owner).
		Scan(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to run match_documents",
			goerr.V("threshold", q.Threshold), goerr.V("limit", limit))
	}

	result := make([]*model.ScoredChunk, 0, len(rows))
	for i := range rows {
		// ivfflat can return boundary rows; the strict filter is applied again here
		if rows[i].Similarity <= q.Threshold {
			continue
		}
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, &model.ScoredChunk{Chunk: c, Similarity: rows[i].Similarity})
	}
	return result, nil
}
