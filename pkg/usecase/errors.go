package usecase

import (
	"errors"

	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/service/embedding"
	"github.com/secmon-lab/asclepius/pkg/service/vectorstore"
)

// Sentinel errors for use case layer
var (
	// ErrAgentUnavailable means the owner has no usable agent session. The user must start the agent.
	ErrAgentUnavailable = errors.New("agent is not running, start the agent first")

	// ErrAgentUnreachable means a live session exists but its endpoint does not answer.
	// Errors carrying it also match ErrAgentUnavailable.
	ErrAgentUnreachable = errors.New("agent is not reachable")

	// ErrAgentBadResponse means the agent answered but rejected the request or sent an
	// undecodable body. Restarting the agent does not help.
	ErrAgentBadResponse = errors.New("agent returned an invalid response")

	// ErrAuthentication means the bearer credential is missing or invalid
	ErrAuthentication = errors.New("authentication failed")

	ErrInvalidInput = errors.New("invalid input")

	ErrEmbeddingFailure = embedding.ErrEmbeddingFailure
	ErrConfiguration    = embedding.ErrConfiguration
	ErrVectorStore      = vectorstore.ErrVectorStore
	ErrAuthorization    = vectorstore.ErrAuthorization
	ErrNotFound         = interfaces.ErrNotFound

	// ErrCredentialRejected means the embedding provider refused the caller's credential
	ErrCredentialRejected = embedding.ErrAuthenticationFailed
)

// Context keys for error values
const (
	OwnerIDKey    = "owner_id"
	SessionIDKey  = "session_id"
	JobIDKey      = "job_id"
	DocumentIDKey = "document_id"
	ChunkIDKey    = "chunk_id"
)
