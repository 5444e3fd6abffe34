package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultDelay is the pause before the single retry attempt
const DefaultDelay = 200 * time.Millisecond

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient flags err as retryable. Clients use it for HTTP 5xx and 429 responses.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a network-level failure worth one retry:
// timeouts, connection resets/refusals, unexpected EOF, gRPC Unavailable/DeadlineExceeded
// or anything flagged with MarkTransient. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return true
		}
	}

	return false
}

// Once runs fn and, if it fails with a transient error while ctx is still alive,
// runs it exactly one more time after DefaultDelay.
func Once[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return v, err
	}

	logging.From(ctx).Warn("transient failure, retrying once", "op", op, "error", err.Error())

	timer := time.NewTimer(DefaultDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return v, err
	case <-timer.C:
	}

	return fn(ctx)
}

// OnceErr is Once for operations without a result value.
func OnceErr(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Once(ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
