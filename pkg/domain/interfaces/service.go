package interfaces

import (
	"context"
	"io"

	"github.com/secmon-lab/asclepius/pkg/domain/model"
)

// BlobStorage stores raw uploaded files
type BlobStorage interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// AgentHealth is the body of the agent health endpoint
type AgentHealth struct {
	Status  string  `json:"status"`
	Model   string  `json:"model"`
	Device  string  `json:"device"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime"`
}

// IsHealthy reports whether the agent declared itself healthy
func (h *AgentHealth) IsHealthy() bool {
	return h != nil && h.Status == "healthy"
}

// AgentChatRequest is sent to the agent generation endpoint
type AgentChatRequest struct {
	Query       string                 `json:"query"`
	History     []model.HistoryMessage `json:"history"`
	TopK        int                    `json:"top_k"`
	Temperature float64                `json:"temperature"`
	Stream      bool                   `json:"stream"`
	Context     []AgentContextChunk    `json:"context"`
}

// AgentContextChunk is one retrieved chunk forwarded as generation context
type AgentContextChunk struct {
	ChunkID    string  `json:"chunk_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// AgentChatResponse is returned by the agent generation endpoint
type AgentChatResponse struct {
	Response       string        `json:"response"`
	Sources        []AgentSource `json:"sources"`
	ProcessingTime float64       `json:"processing_time"`
	Model          string        `json:"model"`
}

// AgentSource is a source the agent says it used
type AgentSource struct {
	ChunkID    string  `json:"chunk_id,omitempty"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

// AgentClient talks to a remote agent instance at a given endpoint
type AgentClient interface {
	Health(ctx context.Context, endpoint string) (*AgentHealth, error)
	Chat(ctx context.Context, endpoint string, caller model.Caller, req *AgentChatRequest) (*AgentChatResponse, error)
}

// Embedder turns text into a vector of model.EmbeddingDimension floats
type Embedder interface {
	Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error)
}
