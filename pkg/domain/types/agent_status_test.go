package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

func TestAgentStatus_IsLive(t *testing.T) {
	tests := []struct {
		name   string
		status types.AgentStatus
		want   bool
	}{
		{name: "initializing", status: types.AgentStatusInitializing, want: true},
		{name: "active", status: types.AgentStatusActive, want: true},
		{name: "idle", status: types.AgentStatusIdle, want: true},
		{name: "terminated", status: types.AgentStatusTerminated, want: false},
		{name: "unknown", status: types.AgentStatus("running"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, tt.status.IsLive()).Equal(tt.want)
		})
	}
}

func TestParseAgentStatus(t *testing.T) {
	for _, s := range types.AllAgentStatuses() {
		got, err := types.ParseAgentStatus(s.String())
		gt.NoError(t, err)
		gt.Value(t, got).Equal(s)
	}

	_, err := types.ParseAgentStatus("unreachable")
	gt.Value(t, err).NotNil()
}

func TestJobStatus(t *testing.T) {
	gt.Bool(t, types.JobStatusCompleted.IsFinal()).True()
	gt.Bool(t, types.JobStatusFailed.IsFinal()).True()
	gt.Bool(t, types.JobStatusPending.IsFinal()).False()

	_, err := types.ParseJobStatus("cancelled")
	gt.Value(t, err).NotNil()
}

func TestParseOwnerScope(t *testing.T) {
	scope, err := types.ParseOwnerScope("")
	gt.NoError(t, err)
	gt.Value(t, scope).Equal(types.ScopeShared)

	scope, err = types.ParseOwnerScope("owner")
	gt.NoError(t, err)
	gt.Value(t, scope).Equal(types.ScopeOwner)

	_, err = types.ParseOwnerScope("team")
	gt.Value(t, err).NotNil()
}
