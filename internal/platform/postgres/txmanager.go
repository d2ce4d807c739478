package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	txcontext "agentgate/pkg/platform/tx"
)

// TxManager runs units of work in a transaction carried through context.
// A nested RunInTx joins the outer transaction.
type TxManager struct {
	pool Beginner
}

// Beginner is satisfied by *pgxpool.Pool and by pgxmock pools.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func NewTxManager(pool Beginner) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) RollsBack() bool { return true }

// RunInTx commits when fn succeeds and rolls back on error or panic.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
