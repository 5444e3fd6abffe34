package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = interfaces.ErrNotFound

// Collection names
const (
	CollectionChunks      = "chunks"
	CollectionSessions    = "agent_sessions"
	CollectionOwnerLocks  = "agent_owners"
	CollectionJobs        = "embedding_jobs"
	vectorDistanceField   = "VectorDistance"
	chunkEmbeddingField   = "Embedding"
	defaultSearchLimit    = 10
	firestoreMaxNeighbors = 1000
)

type Firestore struct {
	client  *firestore.Client
	chunk   *chunkRepository
	session *sessionRepository
	job     *jobRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prepends prefix to every collection name. Tests use it to isolate runs.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.chunk.collectionPrefix = prefix
		f.session.collectionPrefix = prefix
		f.job.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:  client,
		chunk:   newChunkRepository(client),
		session: newSessionRepository(client),
		job:     newJobRepository(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Chunk() interfaces.ChunkRepository {
	return f.chunk
}

func (f *Firestore) AgentSession() interfaces.AgentSessionRepository {
	return f.session
}

func (f *Firestore) Job() interfaces.JobRepository {
	return f.job
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
