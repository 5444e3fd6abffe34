package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Auth holds CLI flags for bearer token verification
type Auth struct {
	jwtSecret string
	jwksURL   string
	audience  string
	noAuthUID string
}

// Flags returns CLI flags for authentication configuration
func (a *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HS256 secret used to verify access tokens",
			Category:    "Authentication",
			Sources:     cli.EnvVars("ASCLEPIUS_JWT_SECRET"),
			Destination: &a.jwtSecret,
		},
		&cli.StringFlag{
			Name:        "jwks-url",
			Usage:       "JWKS URL used to verify access tokens (alternative to --jwt-secret)",
			Category:    "Authentication",
			Sources:     cli.EnvVars("ASCLEPIUS_JWKS_URL"),
			Destination: &a.jwksURL,
		},
		&cli.StringFlag{
			Name:        "jwt-audience",
			Usage:       "Required aud claim. Empty disables the check",
			Value:       usecase.DefaultAudience,
			Category:    "Authentication",
			Sources:     cli.EnvVars("ASCLEPIUS_JWT_AUDIENCE"),
			Destination: &a.audience,
		},
		&cli.StringFlag{
			Name:        "no-auth",
			Usage:       "Skip authentication and run as the given owner ID (development only). Example: --no-auth=local-user",
			Category:    "Authentication",
			Sources:     cli.EnvVars("ASCLEPIUS_NO_AUTH"),
			Destination: &a.noAuthUID,
		},
	}
}

// IsNoAuthMode reports whether authentication is disabled
func (a *Auth) IsNoAuthMode() bool {
	return a.noAuthUID != ""
}

// LogValue implements slog.LogValuer. Secrets are not logged.
func (a Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("jwt_secret_set", a.jwtSecret != ""),
		slog.String("jwks_url", a.jwksURL),
		slog.String("audience", a.audience),
		slog.String("no_auth", a.noAuthUID),
	)
}

// Configure creates the authenticator. Exactly one of --jwt-secret, --jwks-url and
// --no-auth must be set.
func (a *Auth) Configure(ctx context.Context) (usecase.AuthUseCaseInterface, error) {
	set := 0
	for _, v := range []string{a.jwtSecret, a.jwksURL, a.noAuthUID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, goerr.Wrap(ErrInvalidConfig, "exactly one of --jwt-secret, --jwks-url or --no-auth is required")
	}

	opts := []usecase.AuthOption{usecase.WithAudience(a.audience)}

	switch {
	case a.noAuthUID != "":
		logging.Default().Warn("Running in no-auth mode (development only)", "owner_id", a.noAuthUID)
		return usecase.NewNoAuthnUseCase(types.OwnerID(a.noAuthUID)), nil

	case a.jwtSecret != "":
		uc, err := usecase.NewHMACAuthUseCase([]byte(a.jwtSecret), opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to configure HS256 authentication")
		}
		return uc, nil

	default:
		uc, err := usecase.NewJWKSAuthUseCase(ctx, a.jwksURL, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to configure JWKS authentication")
		}
		return uc, nil
	}
}
