package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

type sessionRepository struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*model.AgentSession
}

func newSessionRepository() *sessionRepository {
	return &sessionRepository{
		sessions: make(map[model.SessionID]*model.AgentSession),
	}
}

func terminate(s *model.AgentSession, at time.Time) {
	t := at
	s.Status = types.AgentStatusTerminated
	s.TerminatedAt = &t
}

// terminateLiveLocked must be called with mu held for writing
func (r *sessionRepository) terminateLiveLocked(ownerID types.OwnerID, at time.Time) []*model.AgentSession {
	terminated := make([]*model.AgentSession, 0)
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && s.IsLive() {
			terminate(s, at)
			terminated = append(terminated, s.Copy())
		}
	}
	return terminated
}

func (r *sessionRepository) Replace(ctx context.Context, session *model.AgentSession, terminatedAt time.Time) ([]*model.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terminated := r.terminateLiveLocked(session.OwnerID, terminatedAt)

	created := session.Copy()
	if created.ID == "" {
		created.ID = model.NewSessionID()
	}
	r.sessions[created.ID] = created

	return terminated, nil
}

func (r *sessionRepository) GetLive(ctx context.Context, ownerID types.OwnerID) (*model.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *model.AgentSession
	for _, s := range r.sessions {
		if s.OwnerID != ownerID || !s.IsLive() {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, goerr.Wrap(ErrNotFound, "no live agent session", goerr.V("owner_id", ownerID))
	}
	return found.Copy(), nil
}

func (r *sessionRepository) Get(ctx context.Context, id model.SessionID) (*model.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "agent session not found", goerr.V("id", id))
	}
	return s.Copy(), nil
}

func (r *sessionRepository) Update(ctx context.Context, id model.SessionID, mutate func(s *model.AgentSession) bool) (*model.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[id]
	if !ok || !existing.IsLive() {
		return nil, goerr.Wrap(ErrNotFound, "live agent session not found", goerr.V("id", id))
	}

	updated := existing.Copy()
	if !mutate(updated) {
		return existing.Copy(), nil
	}
	updated.ID = existing.ID
	r.sessions[id] = updated
	return updated.Copy(), nil
}

func (r *sessionRepository) TerminateLive(ctx context.Context, ownerID types.OwnerID, terminatedAt time.Time) ([]*model.AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.terminateLiveLocked(ownerID, terminatedAt), nil
}

func (r *sessionRepository) ListLive(ctx context.Context) ([]*model.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.AgentSession, 0)
	for _, s := range r.sessions {
		if s.IsLive() {
			result = append(result, s.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActiveAt.Before(result[j].LastActiveAt)
	})
	return result, nil
}
