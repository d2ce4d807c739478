package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentgate/internal/invitation/models"
	"agentgate/internal/platform/postgres"
	"agentgate/pkg/platform/sentinel"
)

const invitationColumns = `id, email, token, status, expires_at, created_by, inviter_email, created_at, accepted_at, accepted_by_user_id`

// PostgresStore persists invitations. Every state check happens in the same
// statement as the read or write it guards.
type PostgresStore struct {
	pool *pgxpool.Pool
	tx   *postgres.TxManager
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, tx: postgres.NewTxManager(pool)}
}

// CreatePending serializes issuers of the same email on a transaction-scoped
// advisory lock, so the conflict check and the insert cannot interleave.
func (s *PostgresStore) CreatePending(ctx context.Context, inv *models.InvitationToken, now time.Time) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, s.pool)

		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inv.Email); err != nil {
			return postgres.MapError(err, "lock invitation email")
		}

		if _, err := q.Exec(ctx, `
			UPDATE invitations SET status = 'expired'
			WHERE email = $1 AND status = 'pending' AND expires_at <= $2
		`, inv.Email, now); err != nil {
			return postgres.MapError(err, "expire stale invitations")
		}

		var live bool
		if err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM invitations
				WHERE email = $1 AND status = 'pending' AND expires_at > $2
			)
		`, inv.Email, now).Scan(&live); err != nil {
			return postgres.MapError(err, "check pending invitation")
		}
		if live {
			return fmt.Errorf("pending invitation exists: %w", sentinel.ErrConflict)
		}

		_, err := q.Exec(ctx, `
			INSERT INTO invitations (`+invitationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL)
		`, inv.ID, inv.Email, inv.Token, string(inv.Status), inv.ExpiresAt, inv.CreatedBy, inv.InviterEmail, inv.CreatedAt)
		if err != nil {
			return postgres.MapError(err, "insert invitation")
		}
		return nil
	})
}

func (s *PostgresStore) FindRedeemable(ctx context.Context, token, email string, now time.Time) (*models.InvitationToken, error) {
	row := postgres.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE token = $1 AND email = $2 AND status = 'pending' AND expires_at > $3
	`, token, email, now)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, postgres.MapError(err, "find redeemable invitation")
	}
	return inv, nil
}

// Accept is a single conditional update; of N concurrent callers exactly one
// gets a row back.
func (s *PostgresStore) Accept(ctx context.Context, token, email string, userID uuid.UUID, now time.Time) (*models.InvitationToken, error) {
	row := postgres.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, `
		UPDATE invitations
		SET status = 'accepted', accepted_at = $4, accepted_by_user_id = $3
		WHERE token = $1 AND email = $2 AND status = 'pending' AND expires_at > $4
		RETURNING `+invitationColumns,
		token, email, userID, now)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, postgres.MapError(err, "accept invitation")
	}
	return inv, nil
}

// Reopen reverts an accepted invitation to pending.
func (s *PostgresStore) Reopen(ctx context.Context, id uuid.UUID) error {
	tag, err := postgres.QuerierFromCtx(ctx, s.pool).Exec(ctx, `
		UPDATE invitations
		SET status = 'pending', accepted_at = NULL, accepted_by_user_id = NULL
		WHERE id = $1 AND status = 'accepted'
	`, id)
	if err != nil {
		return postgres.MapError(err, "reopen invitation")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invitation %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.InvitationToken, error) {
	row := postgres.QuerierFromCtx(ctx, s.pool).QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, postgres.MapError(err, "find invitation")
	}
	return inv, nil
}

func scanInvitation(row pgx.Row) (*models.InvitationToken, error) {
	var (
		inv    models.InvitationToken
		status string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.Email,
		&inv.Token,
		&status,
		&inv.ExpiresAt,
		&inv.CreatedBy,
		&inv.InviterEmail,
		&inv.CreatedAt,
		&inv.AcceptedAt,
		&inv.AcceptedByUserID,
	); err != nil {
		return nil, err
	}
	inv.Status = models.Status(status)
	return &inv, nil
}
