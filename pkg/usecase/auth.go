package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// DefaultAudience is the audience claim of access tokens issued to signed-in users
const DefaultAudience = "authenticated"

// acceptableSkew absorbs clock drift between the token issuer and this server
const acceptableSkew = 10 * time.Second

// AuthUseCaseInterface verifies bearer tokens and yields the caller identity
type AuthUseCaseInterface interface {
	Authenticate(ctx context.Context, token string) (model.Caller, error)
	IsNoAuthn() bool
}

// AuthUseCase verifies JWT access tokens. The owner ID is the sub claim.
type AuthUseCase struct {
	keyOption jwt.ParseOption
	audience  string
}

type AuthOption func(*AuthUseCase)

// WithAudience sets the required aud claim. Empty disables the check.
func WithAudience(aud string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.audience = aud
	}
}

// NewHMACAuthUseCase verifies HS256 tokens signed with a shared secret
func NewHMACAuthUseCase(secret []byte, opts ...AuthOption) (*AuthUseCase, error) {
	if len(secret) == 0 {
		return nil, goerr.New("JWT secret is empty")
	}
	uc := &AuthUseCase{
		keyOption: jwt.WithKey(jwa.HS256, secret),
		audience:  DefaultAudience,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc, nil
}

// NewJWKSAuthUseCase verifies tokens against a remote JWK set that is cached and
// refreshed in the background for the lifetime of ctx.
func NewJWKSAuthUseCase(ctx context.Context, jwksURL string, opts ...AuthOption) (*AuthUseCase, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, goerr.Wrap(err, "failed to register JWKS URL", goerr.V("jwks_url", jwksURL))
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, goerr.Wrap(err, "failed to fetch JWKS", goerr.V("jwks_url", jwksURL))
	}

	return NewKeySetAuthUseCase(jwk.NewCachedSet(cache, jwksURL), opts...), nil
}

// NewKeySetAuthUseCase verifies tokens against a fixed key set
func NewKeySetAuthUseCase(keySet jwk.Set, opts ...AuthOption) *AuthUseCase {
	uc := &AuthUseCase{
		keyOption: jwt.WithKeySet(keySet),
		audience:  DefaultAudience,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Authenticate verifies token and returns the caller with the raw token attached
func (uc *AuthUseCase) Authenticate(ctx context.Context, token string) (model.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Caller{}, goerr.Wrap(ErrAuthentication, "bearer token is missing")
	}

	parseOpts := []jwt.ParseOption{
		uc.keyOption,
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if uc.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(uc.audience))
	}

	parsed, err := jwt.Parse([]byte(token), parseOpts...)
	if err != nil {
		return model.Caller{}, goerr.Wrap(ErrAuthentication, "failed to verify JWT", goerr.V("reason", err.Error()))
	}

	sub := parsed.Subject()
	if sub == "" {
		return model.Caller{}, goerr.Wrap(ErrAuthentication, "sub claim not found in token")
	}

	return model.Caller{
		OwnerID: types.OwnerID(sub),
		Token:   model.BearerToken(token),
	}, nil
}

// IsNoAuthn returns false for AuthUseCase
func (uc *AuthUseCase) IsNoAuthn() bool {
	return false
}

// NoAuthnUseCase accepts every request as a fixed owner (for development/testing)
type NoAuthnUseCase struct {
	owner types.OwnerID
}

func NewNoAuthnUseCase(owner types.OwnerID) *NoAuthnUseCase {
	return &NoAuthnUseCase{owner: owner}
}

// Authenticate returns the fixed owner. A provided token is still forwarded to the agent.
func (uc *NoAuthnUseCase) Authenticate(ctx context.Context, token string) (model.Caller, error) {
	return model.Caller{
		OwnerID: uc.owner,
		Token:   model.BearerToken(strings.TrimSpace(token)),
	}, nil
}

// IsNoAuthn returns true for NoAuthnUseCase
func (uc *NoAuthnUseCase) IsNoAuthn() bool {
	return true
}
