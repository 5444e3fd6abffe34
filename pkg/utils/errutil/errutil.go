package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// Handle logs the error with a message and reports it to Sentry when a client is configured.
func Handle(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error())
	}

	capture(ctx, err)
	return err
}

// ErrorResponse is the JSON body written for failed HTTP requests
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// HandleHTTP logs the error and writes a JSON error response.
// 5xx errors are logged at error level and sent to Sentry; 4xx errors are logged as warnings.
func HandleHTTP(ctx context.Context, w http.ResponseWriter, err error, statusCode int) {
	HandleHTTPWithCategory(ctx, w, err, statusCode, "", "")
}

// HandleHTTPWithCategory is HandleHTTP with a user-facing message and error category.
// An empty message falls back to err.Error().
func HandleHTTPWithCategory(ctx context.Context, w http.ResponseWriter, err error, statusCode int, category, message string) {
	if err == nil {
		return
	}

	logger := logging.From(ctx)
	attrs := []any{
		"status", statusCode,
		"error", err.Error(),
	}
	if category != "" {
		attrs = append(attrs, "category", category)
	}

	var ge *goerr.Error
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values())
		if statusCode >= http.StatusInternalServerError {
			attrs = append(attrs, "stack", ge.Stacks())
		}
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error", attrs...)
		capture(ctx, err)
	} else {
		logger.Warn("HTTP error", attrs...)
	}

	if message == "" {
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Category: category})
}

func capture(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}

	hub = hub.Clone()
	var ge *goerr.Error
	if errors.As(err, &ge) {
		hub.ConfigureScope(func(scope *sentry.Scope) {
			for k, v := range ge.Values() {
				scope.SetExtra(k, v)
			}
		})
	}
	hub.CaptureException(err)
}
