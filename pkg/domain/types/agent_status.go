package types

import "fmt"

// AgentStatus represents the lifecycle state of an agent session
type AgentStatus string

const (
	AgentStatusInitializing AgentStatus = "initializing"
	AgentStatusActive       AgentStatus = "active"
	AgentStatusIdle         AgentStatus = "idle"
	AgentStatusTerminated   AgentStatus = "terminated"
)

// AllAgentStatuses returns all valid agent statuses
func AllAgentStatuses() []AgentStatus {
	return []AgentStatus{
		AgentStatusInitializing,
		AgentStatusActive,
		AgentStatusIdle,
		AgentStatusTerminated,
	}
}

// LiveAgentStatuses returns the statuses of a session that has not been terminated
func LiveAgentStatuses() []AgentStatus {
	return []AgentStatus{
		AgentStatusInitializing,
		AgentStatusActive,
		AgentStatusIdle,
	}
}

// IsValid checks if the agent status is valid
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusInitializing,
		AgentStatusActive,
		AgentStatusIdle,
		AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// IsLive reports whether the session still counts toward the one-per-owner limit
func (s AgentStatus) IsLive() bool {
	return s.IsValid() && s != AgentStatusTerminated
}

// String returns the string representation of the agent status
func (s AgentStatus) String() string {
	return string(s)
}

// ParseAgentStatus parses a string into an AgentStatus
func ParseAgentStatus(s string) (AgentStatus, error) {
	status := AgentStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid agent status: %s", s)
	}
	return status, nil
}
