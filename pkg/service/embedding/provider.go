package embedding

import (
	"context"
	"errors"

	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/service/agent"
)

// Provider produces an embedding for one text. Providers do not validate vector
// length; that policy belongs to Client.
type Provider interface {
	Name() string
	// Dimension is the provider's declared native output length, 0 when unknown
	Dimension() int
	Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error)
}

// AgentProvider embeds through the agent's /embed endpoint as the calling user
type AgentProvider struct {
	client   *agent.Client
	endpoint string
}

var _ Provider = &AgentProvider{}

func NewAgentProvider(client *agent.Client, endpoint string) *AgentProvider {
	return &AgentProvider{client: client, endpoint: endpoint}
}

func (p *AgentProvider) Name() string { return "agent" }

func (p *AgentProvider) Dimension() int { return 0 }

func (p *AgentProvider) Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
	resp, err := p.client.Embed(ctx, p.endpoint, caller, text)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrUnauthorized):
			return nil, newProviderError(p.Name(), ErrAuthenticationFailed, err)
		default:
			return nil, newProviderError(p.Name(), ErrProviderUnreachable, err)
		}
	}

	if resp.Dimensions != 0 && resp.Dimensions != len(resp.Embedding) {
		return nil, newProviderError(p.Name(), ErrInvalidDimension, nil)
	}
	return resp.Embedding, nil
}

// GollemProvider embeds with an LLM client such as Gemini text-embedding-004
type GollemProvider struct {
	client    gollem.LLMClient
	name      string
	dimension int
}

var _ Provider = &GollemProvider{}

// NewGollemProvider creates a provider that requests vectors of the given native dimension
func NewGollemProvider(client gollem.LLMClient, name string, dimension int) *GollemProvider {
	return &GollemProvider{client: client, name: name, dimension: dimension}
}

func (p *GollemProvider) Name() string { return p.name }

func (p *GollemProvider) Dimension() int { return p.dimension }

func (p *GollemProvider) Embed(ctx context.Context, _ model.Caller, text string) ([]float32, error) {
	embeddings, err := p.client.GenerateEmbedding(ctx, p.dimension, []string{text})
	if err != nil {
		return nil, newProviderError(p.Name(), ErrProviderUnreachable, err)
	}
	if len(embeddings) == 0 {
		return nil, newProviderError(p.Name(), ErrProviderUnreachable, errors.New("no embedding returned"))
	}

	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}
	return result, nil
}
