package model

import (
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// HistoryMessage is one prior turn of the conversation forwarded to the agent
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source is a retrieved chunk cited in an answer
type Source struct {
	ChunkID    ChunkID `json:"chunk_id"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

// Answer is the result of one RAG chat turn
type Answer struct {
	Text           string        `json:"answer"`
	Sources        []Source      `json:"sources"`
	Model          string        `json:"model,omitempty"`
	ProcessingTime float64       `json:"processing_time,omitempty"`
	Elapsed        time.Duration `json:"-"`
}

// ChatExchange is the record of a chat turn. It is logged, not persisted.
type ChatExchange struct {
	OwnerID   types.OwnerID
	Query     string
	Retrieved []ScoredChunk
	Answer    string
	Sources   []Source
	Elapsed   time.Duration
}

// LogAttrs renders the exchange without chunk bodies or embeddings
func (x ChatExchange) LogAttrs() []any {
	retrieved := make([]map[string]any, len(x.Retrieved))
	for i, r := range x.Retrieved {
		retrieved[i] = map[string]any{
			"chunk_id":   r.Chunk.ID,
			"similarity": r.Similarity,
		}
	}
	cited := make([]ChunkID, len(x.Sources))
	for i, s := range x.Sources {
		cited[i] = s.ChunkID
	}

	return []any{
		"owner_id", x.OwnerID,
		"query", x.Query,
		"retrieved", retrieved,
		"cited", cited,
		"answer_length", len(x.Answer),
		"elapsed", x.Elapsed,
	}
}
