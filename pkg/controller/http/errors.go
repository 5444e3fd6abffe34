package http

import (
	"errors"
	"net/http"

	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
)

// Error categories returned in the "category" field of error responses
const (
	CategoryAgentUnavailable = "agent_unavailable"
	CategoryAgentUnreachable = "agent_unreachable"
	CategoryAgentBadResponse = "agent_bad_response"
	CategoryEmbedding        = "embedding_failure"
	CategoryConfiguration    = "configuration"
	CategoryVectorStore      = "vector_store"
	CategoryAuthorization    = "authorization"
	CategoryAuthentication   = "authentication"
	CategoryInvalidInput     = "invalid_input"
	CategoryNotFound         = "not_found"
	CategoryInternal         = "internal"
)

type errorMapping struct {
	target   error
	status   int
	category string
	message  string
}

// Order matters: unreachable errors also match ErrAgentUnavailable, and a rejected
// embedding credential also matches ErrEmbeddingFailure.
var errorMappings = []errorMapping{
	{usecase.ErrAgentUnreachable, http.StatusServiceUnavailable, CategoryAgentUnreachable, "agent is not reachable, try restarting the agent"},
	{usecase.ErrAgentUnavailable, http.StatusConflict, CategoryAgentUnavailable, "agent is not running, start the agent first"},
	{usecase.ErrAgentBadResponse, http.StatusBadGateway, CategoryAgentBadResponse, "agent returned an invalid response"},
	{usecase.ErrAuthentication, http.StatusUnauthorized, CategoryAuthentication, "authentication required"},
	{usecase.ErrAuthorization, http.StatusForbidden, CategoryAuthorization, "not allowed to access this resource"},
	{usecase.ErrCredentialRejected, http.StatusForbidden, CategoryAuthorization, "embedding provider rejected the credential"},
	{usecase.ErrConfiguration, http.StatusInternalServerError, CategoryConfiguration, "server is misconfigured"},
	{usecase.ErrEmbeddingFailure, http.StatusBadGateway, CategoryEmbedding, "failed to compute embedding"},
	{usecase.ErrVectorStore, http.StatusServiceUnavailable, CategoryVectorStore, "vector store is unavailable"},
	{usecase.ErrInvalidInput, http.StatusBadRequest, CategoryInvalidInput, ""},
	{usecase.ErrNotFound, http.StatusNotFound, CategoryNotFound, "not found"},
}

// classify returns the HTTP status, category and user-facing message for err.
// An empty message means the error text itself is shown.
func classify(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.category, m.message
		}
	}
	return http.StatusInternalServerError, CategoryInternal, "internal server error"
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, category, message := classify(err)
	errutil.HandleHTTPWithCategory(r.Context(), w, err, status, category, message)
}
