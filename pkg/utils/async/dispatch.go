package async

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// Dispatcher runs handlers in background goroutines detached from the request context
// and keeps track of them so that shutdown can wait for in-flight work.
type Dispatcher struct {
	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch executes handler asynchronously in a new goroutine.
// The handler receives a background context that keeps the caller's logger.
func (d *Dispatcher) Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	bgCtx := logging.With(context.Background(), logging.From(ctx))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.From(bgCtx).Error("panic in async handler", "panic", r)
			}
		}()

		if err := handler(bgCtx); err != nil {
			_ = errutil.Handle(bgCtx, err, "async handler failed")
		}
	}()
}

// Wait blocks until every dispatched handler has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "async handlers did not finish before deadline")
	}
}

var defaultDispatcher = NewDispatcher()

// Dispatch runs handler on the process-wide dispatcher
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	defaultDispatcher.Dispatch(ctx, handler)
}

// Wait waits for handlers started with the package-level Dispatch
func Wait(ctx context.Context) error {
	return defaultDispatcher.Wait(ctx)
}
