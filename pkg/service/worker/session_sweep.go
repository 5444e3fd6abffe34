package worker

import (
	"context"
	"time"

	"github.com/secmon-lab/asclepius/pkg/usecase"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
)

// Sweeper expires and idles agent sessions in one pass
type Sweeper interface {
	Sweep(ctx context.Context) (*usecase.SweepResult, error)
}

// SessionSweepWorker periodically sweeps agent sessions.
// Sweeps from several instances may overlap; a session is only updated while it is still live.
type SessionSweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSessionSweepWorker creates a new worker sweeping every interval
func NewSessionSweepWorker(sweeper Sweeper, interval time.Duration) *SessionSweepWorker {
	return &SessionSweepWorker{
		sweeper:  sweeper,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. It does not block.
func (w *SessionSweepWorker) Start(ctx context.Context) error {
	logging.Default().Info("Session sweep worker starting",
		"interval", w.interval.String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *SessionSweepWorker) Stop() {
	logging.Default().Info("Session sweep worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Session sweep worker stopped")
}

func (w *SessionSweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	// sessions left over from a previous process are swept right away
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Session sweep worker context cancelled")
			return
		}
	}
}

func (w *SessionSweepWorker) sweep(ctx context.Context) {
	startTime := time.Now()
	result, err := w.sweeper.Sweep(ctx)
	if err != nil {
		_ = errutil.Handle(ctx, err, "session sweep failed (will retry next interval)")
		return
	}

	if result.Terminated > 0 || result.Idled > 0 {
		logging.Default().Info("Session sweep completed",
			"terminated", result.Terminated,
			"idled", result.Idled,
			"duration", time.Since(startTime).String())
	}
}
