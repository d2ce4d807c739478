package worker

import (
	"context"
	"log/slog"

	audit "agentgate/pkg/platform/audit"
)

// Persister writes a single event and handles its own failures.
type Persister interface {
	Persist(ctx context.Context, event audit.Event)
}

// Worker drains a buffered audit queue into a Persister. It is the consumer
// side of audit.WithQueue.
type Worker struct {
	persister Persister
	inbox     <-chan audit.Event
	logger    *slog.Logger
}

func NewWorker(persister Persister, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{persister: persister, inbox: inbox, logger: logger}
}

// Run persists events until ctx is cancelled, then drains whatever is still
// queued so shutdown does not lose events. Writes never inherit the
// cancellation of ctx.
func (w *Worker) Run(ctx context.Context) {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			w.drain(writeCtx)
			return
		case event, ok := <-w.inbox:
			if !ok {
				return
			}
			w.persister.Persist(writeCtx, event)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	drained := 0
	for {
		select {
		case event, ok := <-w.inbox:
			if !ok {
				w.logDrained(drained)
				return
			}
			w.persister.Persist(ctx, event)
			drained++
		default:
			w.logDrained(drained)
			return
		}
	}
}

func (w *Worker) logDrained(n int) {
	if n > 0 {
		w.logger.Info("audit queue drained on shutdown", "events", n)
	}
}
