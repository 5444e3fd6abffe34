package http

import (
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// authMiddleware verifies the bearer token and attaches the caller to the request context
func authMiddleware(authUC AuthUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok && (authUC == nil || !authUC.IsNoAuthn()) {
				handleError(w, r, goerr.Wrap(errAuthRequired, "bearer token is missing"))
				return
			}

			if authUC == nil {
				handleError(w, r, goerr.Wrap(errAuthRequired, "authentication is not configured"))
				return
			}

			caller, err := authUC.Authenticate(r.Context(), token)
			if err != nil {
				handleError(w, r, err)
				return
			}

			ctx := model.ContextWithCaller(r.Context(), caller)
			ctx = logging.With(ctx, logging.From(ctx).With("owner_id", caller.OwnerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// callerOf returns the caller set by authMiddleware
func callerOf(r *http.Request) model.Caller {
	caller, _ := model.CallerFromContext(r.Context())
	return caller
}
