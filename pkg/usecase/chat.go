package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/model/config"
	"github.com/secmon-lab/asclepius/pkg/service/agent"
	"github.com/secmon-lab/asclepius/pkg/service/vectorstore"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// SourceContentLimit is the number of characters of chunk text returned per cited source
const SourceContentLimit = 200

// ChatInput is one chat turn. Zero TopK and nil Temperature select the defaults.
type ChatInput struct {
	Query       string                 `json:"query"`
	History     []model.HistoryMessage `json:"history"`
	TopK        int                    `json:"top_k"`
	Temperature *float64               `json:"temperature"`
}

type ChatUseCase struct {
	session  *SessionUseCase
	embedder interfaces.Embedder
	store    *vectorstore.Adapter
	agent    interfaces.AgentClient
	cfg      *config.RAGConfig
}

func NewChatUseCase(session *SessionUseCase, embedder interfaces.Embedder, store *vectorstore.Adapter, agentClient interfaces.AgentClient, cfg *config.RAGConfig) *ChatUseCase {
	if cfg == nil {
		cfg = config.DefaultRAGConfig()
	}
	return &ChatUseCase{
		session:  session,
		embedder: embedder,
		store:    store,
		agent:    agentClient,
		cfg:      cfg,
	}
}

func (uc *ChatUseCase) normalize(in *ChatInput) (topK int, temperature float64, err error) {
	if strings.TrimSpace(in.Query) == "" {
		return 0, 0, goerr.Wrap(ErrInvalidInput, "query is empty")
	}

	topK = in.TopK
	if topK == 0 {
		topK = uc.cfg.TopK
	}
	if topK < 1 || topK > config.MaxTopK {
		return 0, 0, goerr.Wrap(ErrInvalidInput, "top_k out of range", goerr.V("top_k", in.TopK))
	}

	temperature = config.DefaultTemperature
	if in.Temperature != nil {
		temperature = *in.Temperature
	}
	if temperature < 0 || temperature > config.MaxTemperature {
		return 0, 0, goerr.Wrap(ErrInvalidInput, "temperature out of range", goerr.V("temperature", temperature))
	}
	return topK, temperature, nil
}

// Answer runs one RAG turn for the caller. It fails before any retrieval when the
// caller has no reachable agent session, and never returns a partial answer.
func (uc *ChatUseCase) Answer(ctx context.Context, caller model.Caller, in ChatInput) (*model.Answer, error) {
	started := time.Now()

	if caller.IsZero() {
		return nil, goerr.Wrap(ErrAuthentication, "caller identity is required")
	}
	topK, temperature, err := uc.normalize(&in)
	if err != nil {
		return nil, err
	}

	session, err := uc.session.Status(ctx, caller.OwnerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve agent session", goerr.V(OwnerIDKey, caller.OwnerID))
	}
	if session == nil {
		return nil, goerr.Wrap(ErrAgentUnavailable, "no agent session", goerr.V(OwnerIDKey, caller.OwnerID))
	}
	if !session.Reachable {
		return nil, goerr.Wrap(errors.Join(ErrAgentUnavailable, ErrAgentUnreachable), "agent session is not reachable",
			goerr.V(OwnerIDKey, caller.OwnerID),
			goerr.V(SessionIDKey, session.ID),
			goerr.V("last_error", session.LastError))
	}
	if !session.HasCapability(model.CapabilityChat) {
		return nil, goerr.Wrap(ErrAgentUnavailable, "agent does not support chat", goerr.V(SessionIDKey, session.ID))
	}

	if uc.embedder == nil {
		return nil, goerr.Wrap(ErrConfiguration, "no embedder configured")
	}
	vector, err := uc.embedder.Embed(ctx, caller, in.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V(OwnerIDKey, caller.OwnerID))
	}

	retrieved, err := uc.store.Search(ctx, vectorstore.SearchQuery{
		Vector:    vector,
		Scope:     uc.cfg.Scope,
		Requester: caller.OwnerID,
		Threshold: uc.cfg.Threshold,
		Limit:     topK,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search chunks", goerr.V(OwnerIDKey, caller.OwnerID))
	}

	history := in.History
	if history == nil {
		history = []model.HistoryMessage{}
	}
	req := &interfaces.AgentChatRequest{
		Query:       in.Query,
		History:     history,
		TopK:        topK,
		Temperature: temperature,
		Context:     buildContext(retrieved),
	}

	genCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
	defer cancel()
	resp, err := uc.agent.Chat(genCtx, session.Endpoint, caller, req)
	if err != nil {
		return nil, agentError(err, session)
	}

	if err := uc.session.Touch(ctx, session.ID); err != nil {
		_ = errutil.Handle(ctx, err, "failed to touch agent session after chat")
	}

	answer := &model.Answer{
		Text:           resp.Response,
		Sources:        citeSources(retrieved, resp.Sources),
		Model:          resp.Model,
		ProcessingTime: resp.ProcessingTime,
		Elapsed:        time.Since(started),
	}

	exchange := model.ChatExchange{
		OwnerID:   caller.OwnerID,
		Query:     in.Query,
		Retrieved: derefScored(retrieved),
		Answer:    answer.Text,
		Sources:   answer.Sources,
		Elapsed:   answer.Elapsed,
	}
	logging.From(ctx).Info("chat exchange", exchange.LogAttrs()...)

	return answer, nil
}

func agentError(err error, session *model.AgentSession) error {
	vals := []goerr.Option{
		goerr.V(SessionIDKey, session.ID),
		goerr.V("endpoint", session.Endpoint),
	}
	switch {
	case errors.Is(err, agent.ErrUnauthorized):
		return goerr.Wrap(errors.Join(ErrAuthorization, err), "agent rejected the caller credential", vals...)
	case errors.Is(err, agent.ErrBadResponse):
		return goerr.Wrap(errors.Join(ErrAgentBadResponse, err), "agent returned an invalid response", vals...)
	default:
		return goerr.Wrap(errors.Join(ErrAgentUnavailable, ErrAgentUnreachable, err), "agent generation failed", vals...)
	}
}

func buildContext(retrieved []*model.ScoredChunk) []interfaces.AgentContextChunk {
	out := make([]interfaces.AgentContextChunk, 0, len(retrieved))
	for _, r := range retrieved {
		out = append(out, interfaces.AgentContextChunk{
			ChunkID:    string(r.Chunk.ID),
			Filename:   r.Chunk.SourceName,
			Content:    r.Chunk.Text,
			Similarity: r.Similarity,
		})
	}
	return out
}

func derefScored(in []*model.ScoredChunk) []model.ScoredChunk {
	out := make([]model.ScoredChunk, len(in))
	for i, r := range in {
		out[i] = *r
	}
	return out
}

// citeSources maps agent-reported sources back to retrieved chunks, first by chunk ID and
// then by filename plus content prefix. Without agent sources every retrieved chunk is cited.
func citeSources(retrieved []*model.ScoredChunk, cited []interfaces.AgentSource) []model.Source {
	if len(cited) == 0 {
		out := make([]model.Source, 0, len(retrieved))
		for _, r := range retrieved {
			out = append(out, toSource(r))
		}
		return out
	}

	used := make(map[model.ChunkID]bool)
	out := make([]model.Source, 0, len(cited))
	for _, c := range cited {
		if r := matchSource(retrieved, c); r != nil && !used[r.Chunk.ID] {
			used[r.Chunk.ID] = true
			out = append(out, toSource(r))
		}
	}
	return out
}

func matchSource(retrieved []*model.ScoredChunk, c interfaces.AgentSource) *model.ScoredChunk {
	if c.ChunkID != "" {
		for _, r := range retrieved {
			if string(r.Chunk.ID) == c.ChunkID {
				return r
			}
		}
	}

	prefix := strings.TrimSpace(strings.TrimSuffix(c.Content, "..."))
	for _, r := range retrieved {
		if r.Chunk.SourceName != c.Filename {
			continue
		}
		if prefix == "" || strings.HasPrefix(r.Chunk.Text, prefix) {
			return r
		}
	}
	return nil
}

func toSource(r *model.ScoredChunk) model.Source {
	return model.Source{
		ChunkID:    r.Chunk.ID,
		Filename:   r.Chunk.SourceName,
		Similarity: r.Similarity,
		Content:    truncateRunes(r.Chunk.Text, SourceContentLimit),
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// Config returns the RAG configuration in effect
func (uc *ChatUseCase) Config() *config.RAGConfig {
	return uc.cfg
}
