package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// SessionID is a UUID-based identifier for AgentSession
type SessionID string

// NewSessionID generates a new UUID v4 SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Capability names an operation the remote agent supports
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityEmbed  Capability = "embed"
	CapabilityHealth Capability = "health"
)

// DefaultCapabilities is what a healthy agent is assumed to offer
func DefaultCapabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityEmbed, CapabilityHealth}
}

// AgentSession tracks one owner's connection to the remote agent.
// At most one session per owner is live (not terminated) at any time.
type AgentSession struct {
	ID           SessionID
	OwnerID      types.OwnerID
	Status       types.AgentStatus
	Endpoint     string
	Capabilities []Capability

	// Reachable is the result of the most recent health check, CheckedAt is when it ran.
	Reachable bool
	CheckedAt time.Time
	LastError string

	// AgentModel and AgentVersion are reported by the agent health endpoint
	AgentModel   string
	AgentVersion string

	CreatedAt    time.Time
	LastActiveAt time.Time
	TerminatedAt *time.Time
}

// IsLive reports whether the session has not been terminated
func (s *AgentSession) IsLive() bool {
	return s.Status.IsLive()
}

// HasCapability reports whether the agent supports c
func (s *AgentSession) HasCapability(c Capability) bool {
	for _, v := range s.Capabilities {
		if v == c {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the session
func (s *AgentSession) Copy() *AgentSession {
	copied := *s
	if s.Capabilities != nil {
		copied.Capabilities = make([]Capability, len(s.Capabilities))
		copy(copied.Capabilities, s.Capabilities)
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		copied.TerminatedAt = &t
	}
	return &copied
}

// StatusUnreachable is reported instead of the lifecycle status when the last health check failed
const StatusUnreachable = "unreachable"

// ObservedStatus returns the lifecycle status, or "unreachable" for a live session
// whose endpoint did not answer the most recent health check.
func (s *AgentSession) ObservedStatus() string {
	if s.IsLive() && !s.Reachable {
		return StatusUnreachable
	}
	return s.Status.String()
}
