package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// chunkDoc is the Firestore document representation of model.DocumentChunk.
// Embedding is stored as firestore.Vector32 so that FindNearest vector search works.
type chunkDoc struct {
	ID         string             `firestore:"ID"`
	OwnerID    string             `firestore:"OwnerID"`
	DocumentID string             `firestore:"DocumentID"`
	SourceName string             `firestore:"SourceName"`
	Text       string             `firestore:"Text"`
	Embedding  firestore.Vector32 `firestore:"Embedding,omitempty"`
	Metadata   map[string]any     `firestore:"Metadata"`
	CreatedAt  time.Time          `firestore:"CreatedAt"`
}

func toChunkDoc(c *model.DocumentChunk) *chunkDoc {
	doc := &chunkDoc{
		ID:         string(c.ID),
		OwnerID:    string(c.OwnerID),
		DocumentID: string(c.DocumentID),
		SourceName: c.SourceName,
		Text:       c.Text,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
	}
	if c.HasEmbedding() {
		doc.Embedding = firestore.Vector32(c.Embedding)
	}
	return doc
}

func fromChunkDoc(d *chunkDoc) *model.DocumentChunk {
	c := &model.DocumentChunk{
		ID:         model.ChunkID(d.ID),
		OwnerID:    types.OwnerID(d.OwnerID),
		DocumentID: model.DocumentID(d.DocumentID),
		SourceName: d.SourceName,
		Text:       d.Text,
		Metadata:   normalizeMetadata(d.Metadata),
		CreatedAt:  d.CreatedAt,
	}
	if len(d.Embedding) > 0 {
		c.Embedding = []float32(d.Embedding)
	}
	return c
}

// normalizeMetadata converts Firestore's int64 numbers back to int for offsets and indexes
func normalizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, ok := v.(int64); ok {
			out[k] = int(n)
			continue
		}
		out[k] = v
	}
	return out
}

func docToChunk(doc *firestore.DocumentSnapshot) (*model.DocumentChunk, error) {
	var d chunkDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	return fromChunkDoc(&d), nil
}

type chunkRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newChunkRepository(client *firestore.Client) *chunkRepository {
	return &chunkRepository{client: client}
}

func (r *chunkRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + CollectionChunks)
}

func (r *chunkRepository) Create(ctx context.Context, chunk *model.DocumentChunk) (*model.DocumentChunk, error) {
	created := chunk.Copy()
	if created.ID == "" {
		created.ID = model.NewChunkID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection().Doc(string(created.ID)).Create(ctx, toChunkDoc(created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create chunk", goerr.V("id", created.ID))
	}
	return created, nil
}

func (r *chunkRepository) Get(ctx context.Context, id model.ChunkID) (*model.DocumentChunk, error) {
	doc, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get chunk", goerr.V("id", id))
	}

	c, err := docToChunk(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal chunk", goerr.V("id", id))
	}
	return c, nil
}

func (r *chunkRepository) Delete(ctx context.Context, id model.ChunkID) error {
	docRef := r.collection().Doc(string(id))

	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrNotFound, "chunk not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to get chunk", goerr.V("id", id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete chunk", goerr.V("id", id))
	}
	return nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, ownerID types.OwnerID, docID model.DocumentID) (int, error) {
	iter := r.collection().
		Where("OwnerID", "==", string(ownerID)).
		Where("DocumentID", "==", string(docID)).
		Documents(ctx)
	defer iter.Stop()

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return 0, goerr.Wrap(err, "failed to iterate chunks", goerr.V("documentID", docID))
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return 0, goerr.Wrap(err, "failed to enqueue chunk delete", goerr.V("id", doc.Ref.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	count := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return count, goerr.Wrap(err, "failed to delete chunk", goerr.V("documentID", docID))
		}
		count++
	}

	return count, nil
}

func (r *chunkRepository) ListByOwner(ctx context.Context, ownerID types.OwnerID) ([]*model.DocumentChunk, error) {
	iter := r.collection().
		Where("OwnerID", "==", string(ownerID)).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	chunks := make([]*model.DocumentChunk, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate chunks", goerr.V("ownerID", ownerID))
		}

		c, err := docToChunk(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// FindSimilar runs a FindNearest cosine query. Firestore reports cosine distance,
// so the threshold is converted to a maximum distance and similarity = 1 - distance.
func (r *chunkRepository) FindSimilar(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, firestoreMaxNeighbors)

	maxDistance := 1 - q.Threshold
	query := r.collection().Query
	if q.OwnerID != "" {
		query = query.Where("OwnerID", "==", string(q.OwnerID))
	}

	vq := query.FindNearest(chunkEmbeddingField, firestore.Vector32(q.Embedding), limit, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceThreshold:   &maxDistance,
			DistanceResultField: vectorDistanceField,
		})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	results := make([]*model.ScoredChunk, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results")
		}

		c, err := docToChunk(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal chunk from vector search")
		}

		raw, err := doc.DataAt(vectorDistanceField)
		if err != nil {
			return nil, goerr.Wrap(err, "vector search result has no distance", goerr.V("id", c.ID))
		}
		distance, ok := raw.(float64)
		if !ok {
			return nil, goerr.New("unexpected vector distance type", goerr.V("id", c.ID), goerr.V("value", raw))
		}

		similarity := 1 - distance
		if similarity <= q.Threshold {
			continue
		}
		results = append(results, &model.ScoredChunk{Chunk: c, Similarity: similarity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.CreatedAt.Before(results[j].Chunk.CreatedAt)
	})
	return results, nil
}
