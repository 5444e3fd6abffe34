package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// AgentSessionRepository persists agent sessions. All methods are owner scoped.
type AgentSessionRepository interface {
	// Replace terminates every live session of session.OwnerID at terminatedAt and stores session,
	// atomically with respect to concurrent Replace calls for the same owner.
	// It returns the sessions that were terminated.
	Replace(ctx context.Context, session *model.AgentSession, terminatedAt time.Time) ([]*model.AgentSession, error)

	// GetLive returns the owner's non-terminated session, or ErrNotFound
	GetLive(ctx context.Context, ownerID types.OwnerID) (*model.AgentSession, error)

	// Get retrieves a session by ID
	Get(ctx context.Context, id model.SessionID) (*model.AgentSession, error)

	// Update applies mutate to the stored state of a live session and saves the result,
	// atomically with respect to other Update, Replace and TerminateLive calls. mutate may
	// run more than once and must only depend on its argument; returning false skips the
	// write. A missing or terminated session is never passed to mutate: Update returns
	// ErrNotFound. The returned session is the state after the call.
	Update(ctx context.Context, id model.SessionID, mutate func(s *model.AgentSession) bool) (*model.AgentSession, error)

	// TerminateLive terminates every live session of the owner and returns them
	TerminateLive(ctx context.Context, ownerID types.OwnerID, terminatedAt time.Time) ([]*model.AgentSession, error)

	// ListLive returns all non-terminated sessions across owners; used by the sweeper
	ListLive(ctx context.Context) ([]*model.AgentSession, error)
}
