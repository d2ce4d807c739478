// Package tx carries a database transaction through context so stores can
// join a unit of work started by a service.
package tx

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type ctxKey struct{}

// WithTx stores a transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tx)
}

// From extracts a transaction from context if present.
func From(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(pgx.Tx)
	return tx, ok
}

// Runner executes fn as one unit of work.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopRunner runs fn directly. In-memory stores use it; they rely on
// explicit compensation instead of rollback.
type NoopRunner struct{}

func (NoopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (NoopRunner) RollsBack() bool { return false }

// RollsBack reports whether r discards every write made by a failed unit of
// work. Runners that do not say so are assumed not to.
func RollsBack(r Runner) bool {
	rb, ok := r.(interface{ RollsBack() bool })
	return ok && rb.RollsBack()
}
