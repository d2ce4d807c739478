package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"agentgate/pkg/platform/sentinel"
)

// MapError converts pgx/pgconn errors to storage sentinels. Context errors
// pass through so callers can tell timeouts from missing rows.
func MapError(err error, entity string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", entity, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", entity, sentinel.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", entity, sentinel.ErrConflict)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w", entity, sentinel.ErrConflict)
		case "57P01", "57P03", "08000", "08003", "08006": // shutdown, cannot connect, connection failures
			return fmt.Errorf("%s: %w: %v", entity, sentinel.ErrUnavailable, err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %v", entity, sentinel.ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", entity, err)
}
