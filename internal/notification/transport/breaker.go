package transport

import (
	"context"
	"errors"
	"log/slog"

	"agentgate/pkg/platform/circuit"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open. The dispatcher treats it like any transient failure, so the
// message lands in the recovery queue.
var ErrCircuitOpen = errors.New("mail provider circuit open")

// Guarded wraps a transport with a circuit breaker.
type Guarded struct {
	next    Transport
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next Transport, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) Send(ctx context.Context, env Envelope) (Receipt, error) {
	if !g.breaker.Allow() {
		return Receipt{}, ErrCircuitOpen
	}

	receipt, err := g.next.Send(ctx, env)
	if err != nil {
		// A cancelled caller says nothing about provider health.
		if ctx.Err() != nil {
			return receipt, err
		}
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "mail provider circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return receipt, err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "mail provider circuit closed", "breaker", g.breaker.Name())
	}
	return receipt, nil
}
