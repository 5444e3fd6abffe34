package usecase_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
)

type mockAgentClient struct {
	healthFn func(ctx context.Context, endpoint string) (*interfaces.AgentHealth, error)
	chatFn   func(ctx context.Context, endpoint string, caller model.Caller, req *interfaces.AgentChatRequest) (*interfaces.AgentChatResponse, error)

	healthCalls atomic.Int32
	chatCalls   atomic.Int32
}

func (m *mockAgentClient) Health(ctx context.Context, endpoint string) (*interfaces.AgentHealth, error) {
	m.healthCalls.Add(1)
	return m.healthFn(ctx, endpoint)
}

func (m *mockAgentClient) Chat(ctx context.Context, endpoint string, caller model.Caller, req *interfaces.AgentChatRequest) (*interfaces.AgentChatResponse, error) {
	m.chatCalls.Add(1)
	return m.chatFn(ctx, endpoint, caller, req)
}

func healthyAgent() *mockAgentClient {
	return &mockAgentClient{
		healthFn: func(ctx context.Context, endpoint string) (*interfaces.AgentHealth, error) {
			return &interfaces.AgentHealth{Status: "healthy", Model: "meditron-7b", Version: "1.0.0"}, nil
		},
		chatFn: func(ctx context.Context, endpoint string, caller model.Caller, req *interfaces.AgentChatRequest) (*interfaces.AgentChatResponse, error) {
			return &interfaces.AgentChatResponse{Response: "ok", Model: "meditron-7b"}, nil
		},
	}
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, caller model.Caller, text string) ([]float32, error)
	calls   atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, caller, text)
}

func constantEmbedder() *mockEmbedder {
	return &mockEmbedder{
		embedFn: func(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
			return unitVector(), nil
		},
	}
}

// countingRepository counts similarity searches on top of a real repository
type countingRepository struct {
	interfaces.Repository
	chunk *countingChunkRepository
}

func newCountingRepository(repo interfaces.Repository) *countingRepository {
	return &countingRepository{
		Repository: repo,
		chunk:      &countingChunkRepository{ChunkRepository: repo.Chunk()},
	}
}

func (r *countingRepository) Chunk() interfaces.ChunkRepository {
	return r.chunk
}

type countingChunkRepository struct {
	interfaces.ChunkRepository
	findCalls atomic.Int32
}

func (r *countingChunkRepository) FindSimilar(ctx context.Context, q interfaces.ChunkSearch) ([]*model.ScoredChunk, error) {
	r.findCalls.Add(1)
	return r.ChunkRepository.FindSimilar(ctx, q)
}

// inlineDispatcher runs handlers synchronously and keeps their errors
type inlineDispatcher struct {
	mu   sync.Mutex
	errs []error
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	err := handler(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func unitVector() []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = 1
	return v
}

func axisVector(sim float64) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}
