package model

import (
	"context"

	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// BearerToken is the caller's raw credential. It is forwarded to the agent as-is
// and is redacted from logs.
type BearerToken string

// Caller is the verified identity of the requesting user. It is passed by value
// through every operation that reads or writes owner-scoped data.
type Caller struct {
	OwnerID types.OwnerID
	Token   BearerToken `masq:"secret"`
}

// IsZero reports whether no identity is set
func (c Caller) IsZero() bool {
	return c.OwnerID == ""
}

type callerCtxKey struct{}

// ContextWithCaller attaches the verified caller to ctx
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, caller)
}

// CallerFromContext returns the caller attached by ContextWithCaller
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerCtxKey{}).(Caller)
	return caller, ok
}
