package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// maxDrain bounds how much of an unread response body is discarded before close
const maxDrain = 64 << 10

// Close closes closer and logs a failure. A nil closer is ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// CloseBody discards what is left of an HTTP response body and closes it,
// so the underlying connection can be reused.
func CloseBody(ctx context.Context, body io.ReadCloser) {
	if body == nil {
		return
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(body, maxDrain)); err != nil {
		logging.From(ctx).Debug("Failed to drain body", slog.Any("error", err))
	}
	Close(ctx, body)
}
