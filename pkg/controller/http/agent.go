package http

import (
	"net/http"
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/usecase"
)

type sessionResponse struct {
	ID           model.SessionID    `json:"id"`
	Status       string             `json:"status"`
	Endpoint     string             `json:"endpoint"`
	Capabilities []model.Capability `json:"capabilities"`
	Reachable    bool               `json:"reachable"`
	LastError    string             `json:"last_error,omitempty"`
	Model        string             `json:"model,omitempty"`
	Version      string             `json:"version,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
	CheckedAt    time.Time          `json:"checked_at"`
}

type statusResponse struct {
	Session *sessionResponse `json:"session"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

func toSessionResponse(s *model.AgentSession) *sessionResponse {
	if s == nil {
		return nil
	}
	caps := s.Capabilities
	if caps == nil {
		caps = []model.Capability{}
	}
	return &sessionResponse{
		ID:           s.ID,
		Status:       s.ObservedStatus(),
		Endpoint:     s.Endpoint,
		Capabilities: caps,
		Reachable:    s.Reachable,
		LastError:    s.LastError,
		Model:        s.AgentModel,
		Version:      s.AgentVersion,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		CheckedAt:    s.CheckedAt,
	}
}

func agentStartHandler(uc *usecase.SessionUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := uc.Start(r.Context(), callerOf(r))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, statusResponse{Session: toSessionResponse(session)})
	}
}

func agentStatusHandler(uc *usecase.SessionUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := uc.Status(r.Context(), callerOf(r).OwnerID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, statusResponse{Session: toSessionResponse(session)})
	}
}

func agentStopHandler(uc *usecase.SessionUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped, err := uc.Stop(r.Context(), callerOf(r).OwnerID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, stopResponse{Stopped: stopped})
	}
}
