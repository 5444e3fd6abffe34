package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/model/config"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// SessionUseCase manages the per-owner agent session lifecycle:
// initializing -> active <-> idle -> terminated.
type SessionUseCase struct {
	repo     interfaces.Repository
	agent    interfaces.AgentClient
	endpoint string
	cfg      *config.RAGConfig
	now      func() time.Time
}

func NewSessionUseCase(repo interfaces.Repository, agent interfaces.AgentClient, endpoint string, cfg *config.RAGConfig, now func() time.Time) *SessionUseCase {
	if cfg == nil {
		cfg = config.DefaultRAGConfig()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionUseCase{
		repo:     repo,
		agent:    agent,
		endpoint: endpoint,
		cfg:      cfg,
		now:      now,
	}
}

// healthResult is the outcome of one health check against a session endpoint
type healthResult struct {
	checkedAt time.Time
	reachable bool
	lastError string
	model     string
	version   string
}

// checkHealth runs a health check against endpoint. It does not touch any session.
func (uc *SessionUseCase) checkHealth(ctx context.Context, endpoint string) healthResult {
	result := healthResult{checkedAt: uc.now()}

	if uc.agent == nil || endpoint == "" {
		result.lastError = "agent endpoint is not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.HealthTimeout)
	defer cancel()

	health, err := uc.agent.Health(ctx, endpoint)
	switch {
	case err != nil:
		result.lastError = err.Error()
	case !health.IsHealthy():
		result.lastError = "agent reported status " + health.Status
	default:
		result.reachable = true
		result.model = health.Model
		result.version = health.Version
	}
	return result
}

// apply records the health result on s. Only reachability fields change, except that a
// reachable initializing session is promoted to active. LastActiveAt is never touched.
func (p healthResult) apply(s *model.AgentSession) bool {
	if s.CheckedAt.After(p.checkedAt) {
		// a newer health result already landed
		return false
	}

	s.CheckedAt = p.checkedAt
	s.Reachable = p.reachable
	s.LastError = p.lastError
	if !p.reachable {
		return true
	}

	s.AgentModel = p.model
	s.AgentVersion = p.version
	if len(s.Capabilities) == 0 {
		s.Capabilities = model.DefaultCapabilities()
	}
	if s.Status == types.AgentStatusInitializing {
		s.Status = types.AgentStatusActive
	}
	return true
}

// Start terminates any live session of the caller and creates a new one.
// A failed health check leaves the new session initializing and unreachable.
func (uc *SessionUseCase) Start(ctx context.Context, caller model.Caller) (*model.AgentSession, error) {
	if caller.IsZero() {
		return nil, goerr.Wrap(ErrAuthentication, "caller identity is required")
	}

	now := uc.now()
	session := &model.AgentSession{
		ID:           model.NewSessionID(),
		OwnerID:      caller.OwnerID,
		Status:       types.AgentStatusInitializing,
		Endpoint:     uc.endpoint,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	terminated, err := uc.repo.AgentSession().Replace(ctx, session, now)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create agent session", goerr.V(OwnerIDKey, caller.OwnerID))
	}

	logger := logging.From(ctx)
	if len(terminated) > 0 {
		logger.Info("terminated previous agent sessions",
			"owner_id", caller.OwnerID, "count", len(terminated))
	}

	result := uc.checkHealth(ctx, session.Endpoint)
	saved, err := uc.repo.AgentSession().Update(ctx, session.ID, result.apply)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(err, "failed to save agent session", goerr.V(SessionIDKey, session.ID))
		}
		return uc.concurrentStart(ctx, caller.OwnerID, session.ID)
	}

	logger.Info("agent session started",
		"owner_id", caller.OwnerID,
		"session_id", saved.ID,
		"status", saved.ObservedStatus(),
	)
	return saved, nil
}

// concurrentStart handles a session that was replaced during its health check.
// The owner's current live session, if any, is the result of the start.
func (uc *SessionUseCase) concurrentStart(ctx context.Context, ownerID types.OwnerID, lost model.SessionID) (*model.AgentSession, error) {
	live, err := uc.repo.AgentSession().GetLive(ctx, ownerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrAgentUnavailable, "agent session was stopped during start",
				goerr.V(OwnerIDKey, ownerID), goerr.V(SessionIDKey, lost))
		}
		return nil, goerr.Wrap(err, "failed to get agent session", goerr.V(OwnerIDKey, ownerID))
	}

	logging.From(ctx).Info("agent session replaced by a concurrent start",
		"owner_id", ownerID, "lost_session_id", lost, "session_id", live.ID)
	return live, nil
}

// Status returns the owner's live session after a synchronous health check, or nil when
// the owner has none. Only the health result is persisted.
func (uc *SessionUseCase) Status(ctx context.Context, ownerID types.OwnerID) (*model.AgentSession, error) {
	session, err := uc.repo.AgentSession().GetLive(ctx, ownerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get agent session", goerr.V(OwnerIDKey, ownerID))
	}

	result := uc.checkHealth(ctx, session.Endpoint)
	saved, err := uc.repo.AgentSession().Update(ctx, session.ID, result.apply)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			// terminated while probing
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to save health result", goerr.V(SessionIDKey, session.ID))
	}
	return saved, nil
}

// Stop terminates the owner's live sessions. It reports whether any was live.
func (uc *SessionUseCase) Stop(ctx context.Context, ownerID types.OwnerID) (bool, error) {
	terminated, err := uc.repo.AgentSession().TerminateLive(ctx, ownerID, uc.now())
	if err != nil {
		return false, goerr.Wrap(err, "failed to stop agent session", goerr.V(OwnerIDKey, ownerID))
	}

	if len(terminated) > 0 {
		logging.From(ctx).Info("agent session stopped", "owner_id", ownerID, "count", len(terminated))
	}
	return len(terminated) > 0, nil
}

// Touch refreshes LastActiveAt of a live session and wakes it up if idle.
// LastActiveAt never moves backwards.
func (uc *SessionUseCase) Touch(ctx context.Context, sessionID model.SessionID) error {
	now := uc.now()
	_, err := uc.repo.AgentSession().Update(ctx, sessionID, func(s *model.AgentSession) bool {
		if now.After(s.LastActiveAt) {
			s.LastActiveAt = now
		}
		if s.Status == types.AgentStatusIdle {
			s.Status = types.AgentStatusActive
		}
		return true
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return goerr.Wrap(errors.Join(ErrAgentUnavailable, err), "agent session is not live", goerr.V(SessionIDKey, sessionID))
		}
		return goerr.Wrap(err, "failed to touch agent session", goerr.V(SessionIDKey, sessionID))
	}
	return nil
}

// SweepResult counts the transitions made by one sweep
type SweepResult struct {
	Terminated int
	Idled      int
}

type sweepOutcome int

const (
	sweepKeep sweepOutcome = iota
	sweepIdle
	sweepTerminate
)

func (uc *SessionUseCase) sweepDecision(s *model.AgentSession, inactive time.Duration) sweepOutcome {
	switch {
	case inactive > uc.cfg.SessionTimeout:
		return sweepTerminate
	case s.Status == types.AgentStatusActive && inactive > uc.cfg.IdleAfter:
		return sweepIdle
	default:
		return sweepKeep
	}
}

// Sweep terminates live sessions unused for longer than the session timeout and
// marks active sessions unused for longer than the idle threshold as idle.
// A failure on one session does not stop the sweep.
func (uc *SessionUseCase) Sweep(ctx context.Context) (*SweepResult, error) {
	sessions, err := uc.repo.AgentSession().ListLive(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list live agent sessions")
	}

	now := uc.now()
	result := &SweepResult{}
	logger := logging.From(ctx)

	for _, listed := range sessions {
		var outcome sweepOutcome
		var inactive time.Duration

		// inactivity is decided on the stored state, not the listed copy,
		// so a touch after ListLive keeps the session alive
		_, err := uc.repo.AgentSession().Update(ctx, listed.ID, func(s *model.AgentSession) bool {
			inactive = now.Sub(s.LastActiveAt)
			outcome = uc.sweepDecision(s, inactive)
			switch outcome {
			case sweepTerminate:
				at := now
				s.Status = types.AgentStatusTerminated
				s.TerminatedAt = &at
				return true
			case sweepIdle:
				s.Status = types.AgentStatusIdle
				return true
			default:
				return false
			}
		})
		if err != nil {
			if !errors.Is(err, interfaces.ErrNotFound) {
				_ = errutil.Handle(ctx, err, "failed to sweep agent session")
			}
			continue
		}

		switch outcome {
		case sweepTerminate:
			result.Terminated++
			logger.Info("agent session expired",
				"owner_id", listed.OwnerID, "session_id", listed.ID, "inactive", inactive)
		case sweepIdle:
			result.Idled++
		}
	}

	return result, nil
}
