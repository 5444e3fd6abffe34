package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingFailure marks every error returned by Client.Embed
	ErrEmbeddingFailure = errors.New("embedding failed")

	// ErrProviderUnreachable means the provider could not be reached, timed out or answered with a server error
	ErrProviderUnreachable = errors.New("embedding provider unreachable")
	// ErrInvalidDimension means the provider returned a vector of the wrong length
	ErrInvalidDimension = errors.New("invalid embedding dimension")
	// ErrAuthenticationFailed means the provider rejected the caller's credential
	ErrAuthenticationFailed = errors.New("embedding provider authentication failed")
	// ErrConfiguration means the fallback provider cannot produce vectors of the store's dimension
	ErrConfiguration = errors.New("embedding provider misconfigured")
)

// ProviderError describes the failure of a single provider. Kind is one of the
// sentinel errors above and Cause is the underlying error, if any. Both are
// reachable through errors.Is and errors.As.
type ProviderError struct {
	Provider string
	Kind     error
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newProviderError(provider string, kind, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Cause: cause}
}
