package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentgate/internal/platform/postgres"
)

// PostgresStore implements ports.WindowStore on the rate_limit_records table.
// The increment-with-check is a single upsert, so concurrent instances can
// never push a counter past maxAttempts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const incrementQuery = `
	WITH stale AS (
		DELETE FROM rate_limit_records
		WHERE key = $1 AND window_start < $2
	)
	INSERT INTO rate_limit_records (key, window_start, window_seconds, count)
	VALUES ($1, $2, $3, 1)
	ON CONFLICT (key, window_start) DO UPDATE
		SET count = rate_limit_records.count + 1
		WHERE rate_limit_records.count < $4
	RETURNING count
`

func (s *PostgresStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration, maxAttempts int) (int, bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, incrementQuery,
		key, windowStart, int(window/time.Second), maxAttempts,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflict branch's WHERE rejected the update: budget exhausted.
		return maxAttempts, false, nil
	}
	if err != nil {
		return 0, false, postgres.MapError(err, "increment rate limit record")
	}
	return count, true, nil
}

func (s *PostgresStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rate_limit_records
		WHERE window_start + make_interval(secs => window_seconds) <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purge rate limit records: %w", err)
	}
	return tag.RowsAffected(), nil
}
