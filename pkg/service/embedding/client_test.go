package embedding_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/service/agent"
	"github.com/secmon-lab/asclepius/pkg/service/embedding"
	"github.com/secmon-lab/asclepius/pkg/utils/retry"
)

var testCaller = model.Caller{OwnerID: "user-1", Token: "token-abc"}

type mockProvider struct {
	name      string
	dimension int
	calls     atomic.Int32
	embedFn   func(ctx context.Context, caller model.Caller, text string) ([]float32, error)
}

func (m *mockProvider) Name() string   { return m.name }
func (m *mockProvider) Dimension() int { return m.dimension }
func (m *mockProvider) Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, caller, text)
}

func vectorOf(n int, v float32) []float32 {
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

func fixed(n int, v float32) func(context.Context, model.Caller, string) ([]float32, error) {
	return func(context.Context, model.Caller, string) ([]float32, error) {
		return vectorOf(n, v), nil
	}
}

func failing(err error) func(context.Context, model.Caller, string) ([]float32, error) {
	return func(context.Context, model.Caller, string) ([]float32, error) {
		return nil, err
	}
}

type mockLLMClient struct {
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (m *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, nil
}

func (m *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	if m.generateEmbeddingFn != nil {
		return m.generateEmbeddingFn(ctx, dimension, input)
	}
	vec := make([]float64, dimension)
	for i := range vec {
		vec[i] = 0.1
	}
	return [][]float64{vec}, nil
}

func TestClient_Embed(t *testing.T) {
	t.Run("returns primary vector", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: fixed(model.EmbeddingDimension, 0.5)}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: fixed(model.EmbeddingDimension, 0.1)}

		vec, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err).Required()
		gt.Array(t, vec).Length(model.EmbeddingDimension)
		gt.Value(t, vec[0]).Equal(float32(0.5))
		gt.Value(t, secondary.calls.Load()).Equal(int32(0))
	})

	t.Run("wrong primary dimension raises InvalidDimension without secondary", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: fixed(1536, 0.5)}

		_, err := embedding.NewClient(primary).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrInvalidDimension)
		gt.Error(t, err).Is(embedding.ErrEmbeddingFailure)
		gt.Bool(t, errors.Is(err, embedding.ErrConfiguration)).False()
	})

	t.Run("wrong primary dimension falls back to secondary", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: fixed(1536, 0.5)}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: fixed(model.EmbeddingDimension, 0.1)}

		vec, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err).Required()
		gt.Value(t, vec[0]).Equal(float32(0.1))
		gt.Value(t, primary.calls.Load()).Equal(int32(1))
		gt.Value(t, secondary.calls.Load()).Equal(int32(1))
	})

	t.Run("unreachable primary is retried once then falls back", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: failing(retry.MarkTransient(errors.New("connection reset")))}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: fixed(model.EmbeddingDimension, 0.1)}

		_, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err)
		gt.Value(t, primary.calls.Load()).Equal(int32(2))
	})

	t.Run("authentication failure does not fall back", func(t *testing.T) {
		authErr := &embedding.ProviderError{Provider: "primary", Kind: embedding.ErrAuthenticationFailed}
		primary := &mockProvider{name: "primary", embedFn: failing(authErr)}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: fixed(model.EmbeddingDimension, 0.1)}

		_, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrAuthenticationFailed)
		gt.Value(t, secondary.calls.Load()).Equal(int32(0))
		gt.Value(t, primary.calls.Load()).Equal(int32(1))
	})

	t.Run("secondary declared dimension mismatch is a configuration error", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: failing(errors.New("down"))}
		secondary := &mockProvider{name: "secondary", dimension: 1536, embedFn: fixed(1536, 0.1)}

		_, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrConfiguration)
		gt.Error(t, err).Is(embedding.ErrEmbeddingFailure)
		gt.Value(t, secondary.calls.Load()).Equal(int32(0))
	})

	t.Run("secondary returned dimension mismatch is a configuration error", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: failing(errors.New("down"))}
		secondary := &mockProvider{name: "secondary", embedFn: fixed(384, 0.1)}

		_, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrConfiguration)
		gt.Value(t, secondary.calls.Load()).Equal(int32(1))
	})

	t.Run("both providers unreachable", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: failing(errors.New("down"))}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: failing(errors.New("quota"))}

		_, err := embedding.NewClient(primary, embedding.WithSecondary(secondary)).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrProviderUnreachable)
		gt.Error(t, err).Is(embedding.ErrEmbeddingFailure)
	})

	t.Run("slow primary times out and falls back", func(t *testing.T) {
		primary := &mockProvider{name: "primary", embedFn: func(ctx context.Context, _ model.Caller, _ string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		secondary := &mockProvider{name: "secondary", dimension: model.EmbeddingDimension, embedFn: fixed(model.EmbeddingDimension, 0.1)}

		client := embedding.NewClient(primary, embedding.WithSecondary(secondary), embedding.WithTimeout(10*time.Millisecond))
		vec, err := client.Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err).Required()
		gt.Array(t, vec).Length(model.EmbeddingDimension)
		gt.Value(t, primary.calls.Load()).Equal(int32(2))
	})
}

func TestClient_Validate(t *testing.T) {
	primary := &mockProvider{name: "primary"}

	gt.NoError(t, embedding.NewClient(primary).Validate())
	gt.NoError(t, embedding.NewClient(primary, embedding.WithSecondary(&mockProvider{name: "s", dimension: model.EmbeddingDimension})).Validate())
	gt.Error(t, embedding.NewClient(primary, embedding.WithSecondary(&mockProvider{name: "s", dimension: 3072})).Validate()).Is(embedding.ErrConfiguration)
	gt.Error(t, embedding.NewClient(nil).Validate()).Is(embedding.ErrConfiguration)
}

func TestAgentProvider(t *testing.T) {
	t.Run("1536-length response is rejected by the client", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(agent.EmbedResponse{Embedding: vectorOf(1536, 0.1), Dimensions: 1536})
		}))
		defer srv.Close()

		p := embedding.NewAgentProvider(agent.New(), srv.URL)
		_, err := embedding.NewClient(p).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrInvalidDimension)
	})

	t.Run("401 maps to authentication failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := embedding.NewAgentProvider(agent.New(), srv.URL)
		_, err := p.Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrAuthenticationFailed)
	})

	t.Run("declared dimensions disagreeing with vector length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(agent.EmbedResponse{Embedding: vectorOf(10, 0.1), Dimensions: model.EmbeddingDimension})
		}))
		defer srv.Close()

		_, err := embedding.NewAgentProvider(agent.New(), srv.URL).Embed(context.Background(), testCaller, "fever")
		gt.Error(t, err).Is(embedding.ErrInvalidDimension)
	})
}

func TestGollemProvider(t *testing.T) {
	t.Run("converts float64 vector", func(t *testing.T) {
		var gotDim int
		llm := &mockLLMClient{generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
			gotDim = dimension
			gt.Array(t, input).Length(1)
			vec := make([]float64, dimension)
			vec[0] = 0.25
			return [][]float64{vec}, nil
		}}

		p := embedding.NewGollemProvider(llm, "gemini", model.EmbeddingDimension)
		vec, err := p.Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err).Required()
		gt.Value(t, gotDim).Equal(model.EmbeddingDimension)
		gt.Value(t, vec[0]).Equal(float32(0.25))
	})

	t.Run("empty result is an error", func(t *testing.T) {
		llm := &mockLLMClient{generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
			return nil, nil
		}}
		_, err := embedding.NewGollemProvider(llm, "gemini", model.EmbeddingDimension).Embed(context.Background(), testCaller, "x")
		gt.Error(t, err).Is(embedding.ErrProviderUnreachable)
	})

	t.Run("serves as fallback", func(t *testing.T) {
		primary := &mockProvider{name: "agent", embedFn: failing(errors.New("down"))}
		client := embedding.NewClient(primary, embedding.WithSecondary(embedding.NewGollemProvider(&mockLLMClient{}, "gemini", model.EmbeddingDimension)))

		vec, err := client.Embed(context.Background(), testCaller, "fever")
		gt.NoError(t, err).Required()
		gt.Array(t, vec).Length(model.EmbeddingDimension)
	})
}
