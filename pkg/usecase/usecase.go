package usecase

import (
	"context"
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model/config"
	"github.com/secmon-lab/asclepius/pkg/service/blob"
	"github.com/secmon-lab/asclepius/pkg/service/vectorstore"
	"github.com/secmon-lab/asclepius/pkg/utils/async"
)

// Dispatcher runs background work detached from the request
type Dispatcher interface {
	Dispatch(ctx context.Context, handler func(ctx context.Context) error)
}

type UseCases struct {
	repo          interfaces.Repository
	ragConfig     *config.RAGConfig
	agentClient   interfaces.AgentClient
	agentEndpoint string
	embedder      interfaces.Embedder
	blobStorage   interfaces.BlobStorage
	dispatcher    Dispatcher
	now           func() time.Time

	Session  *SessionUseCase
	Chat     *ChatUseCase
	Document *DocumentUseCase
	Auth     AuthUseCaseInterface
}

type Option func(*UseCases)

func WithRAGConfig(cfg *config.RAGConfig) Option {
	return func(uc *UseCases) {
		uc.ragConfig = cfg
	}
}

// WithAgent sets the agent client and the endpoint new sessions are bound to
func WithAgent(client interfaces.AgentClient, endpoint string) Option {
	return func(uc *UseCases) {
		uc.agentClient = client
		uc.agentEndpoint = endpoint
	}
}

func WithEmbedder(embedder interfaces.Embedder) Option {
	return func(uc *UseCases) {
		uc.embedder = embedder
	}
}

func WithBlobStorage(storage interfaces.BlobStorage) Option {
	return func(uc *UseCases) {
		uc.blobStorage = storage
	}
}

// WithDispatcher replaces the process-wide async dispatcher used for upload processing
func WithDispatcher(d Dispatcher) Option {
	return func(uc *UseCases) {
		uc.dispatcher = d
	}
}

func WithAuth(auth AuthUseCaseInterface) Option {
	return func(uc *UseCases) {
		uc.Auth = auth
	}
}

// WithClock overrides time.Now for session bookkeeping
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

type defaultDispatcher struct{}

func (defaultDispatcher) Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	async.Dispatch(ctx, handler)
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:        repo,
		ragConfig:   config.DefaultRAGConfig(),
		blobStorage: blob.NewMemory(),
		dispatcher:  defaultDispatcher{},
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(uc)
	}

	store := vectorstore.New(repo.Chunk())

	uc.Session = NewSessionUseCase(repo, uc.agentClient, uc.agentEndpoint, uc.ragConfig, uc.now)
	uc.Chat = NewChatUseCase(uc.Session, uc.embedder, store, uc.agentClient, uc.ragConfig)
	uc.Document = NewDocumentUseCase(repo, store, uc.embedder, uc.blobStorage, uc.dispatcher, uc.ragConfig)

	return uc
}
