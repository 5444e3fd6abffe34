package types

import "fmt"

// OwnerScope controls which owners' chunks a similarity search may return.
// Writes and deletes are always restricted to the owner regardless of scope.
type OwnerScope string

const (
	// ScopeShared searches chunks uploaded by every owner
	ScopeShared OwnerScope = "shared"
	// ScopeOwner searches only the requester's own chunks
	ScopeOwner OwnerScope = "owner"
)

func (s OwnerScope) IsValid() bool {
	return s == ScopeShared || s == ScopeOwner
}

func (s OwnerScope) String() string {
	return string(s)
}

// ParseOwnerScope parses a string into an OwnerScope. Empty input yields ScopeShared.
func ParseOwnerScope(s string) (OwnerScope, error) {
	if s == "" {
		return ScopeShared, nil
	}
	scope := OwnerScope(s)
	if !scope.IsValid() {
		return "", fmt.Errorf("invalid owner scope: %s", s)
	}
	return scope, nil
}
