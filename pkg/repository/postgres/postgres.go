package postgres

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = interfaces.ErrNotFound

type Postgres struct {
	db      *gorm.DB
	chunk   *chunkRepository
	session *sessionRepository
	job     *jobRepository
}

var _ interfaces.Repository = &Postgres{}

type Option func(*gorm.Config)

// WithLogger replaces the gorm SQL logger, which is silent by default
func WithLogger(l logger.Interface) Option {
	return func(c *gorm.Config) {
		c.Logger = l
	}
}

// New connects to PostgreSQL with the pgvector extension. Call Migrate before first use.
func New(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open postgres connection")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sql.DB from gorm")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	return newWithDB(db), nil
}

func newWithDB(db *gorm.DB) *Postgres {
	return &Postgres{
		db:      db,
		chunk:   &chunkRepository{db: db},
		session: &sessionRepository{db: db},
		job:     &jobRepository{db: db},
	}
}

// Migrate creates the vector extension, tables, indexes and the match_documents function
func (p *Postgres) Migrate(ctx context.Context) error {
	db := p.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return goerr.Wrap(err, "failed to create vector extension")
	}
	if err := db.AutoMigrate(&documentRow{}, &agentRow{}, &jobRow{}); err != nil {
		return goerr.Wrap(err, "failed to migrate tables")
	}
	for _, stmt := range SchemaStatements() {
		if err := db.Exec(stmt).Error; err != nil {
			return goerr.Wrap(err, "failed to apply schema statement", goerr.V("statement", stmt))
		}
	}
	return nil
}

// SchemaStatements returns the DDL applied after table creation, in order
func SchemaStatements() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS agents_one_live_per_owner ON agents (owner_id) WHERE status <> 'terminated'`,
		matchDocumentsFunction,
	}
}

const matchDocumentsFunction = `
CREATE OR REPLACE FUNCTION match_documents(
  query_embedding vector(768),
  match_threshold float,
  match_count int,
  filter_owner text DEFAULT NULL
)
RETURNS TABLE (
  id text,
  owner_id text,
  document_id text,
  filename text,
  content text,
  metadata jsonb,
  embedding vector(768),
  created_at timestamptz,
  similarity float
)
LANGUAGE sql STABLE SECURITY DEFINER
AS $$
  SELECT d.id, d.owner_id, d.document_id, d.filename, d.content, d.metadata, d.embedding, d.created_at,
         1 - (d.embedding <=> query_embedding) AS similarity
  FROM documents d
  WHERE d.embedding IS NOT NULL
    AND (filter_owner IS NULL OR d.owner_id = filter_owner)
    AND 1 - (d.embedding <=> query_embedding) > match_threshold
  ORDER BY d.embedding <=> query_embedding, d.created_at
  LIMIT match_count;
$$`

func (p *Postgres) Chunk() interfaces.ChunkRepository {
	return p.chunk
}

func (p *Postgres) AgentSession() interfaces.AgentSessionRepository {
	return p.session
}

func (p *Postgres) Job() interfaces.JobRepository {
	return p.job
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to get sql.DB from gorm")
	}
	return sqlDB.Close()
}
