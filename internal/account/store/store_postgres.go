package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentgate/internal/account/models"
	"agentgate/internal/platform/postgres"
	"agentgate/pkg/platform/sentinel"
)

// PostgresStore persists accounts and profiles. Writes join the transaction
// carried in ctx, if any.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := postgres.QuerierFromCtx(ctx, s.pool).Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, account.ID, account.Email, account.PasswordHash, account.CreatedAt)
	if err != nil {
		return postgres.MapError(err, "insert account")
	}
	return nil
}

// DeleteAccount removes the account; the profile goes with it by cascade.
func (s *PostgresStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := postgres.QuerierFromCtx(ctx, s.pool).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return postgres.MapError(err, "delete account")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile *models.Profile) error {
	_, err := postgres.QuerierFromCtx(ctx, s.pool).Exec(ctx, `
		INSERT INTO profiles (user_id, email, first_name, last_name, role, invitation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, profile.UserID, profile.Email, profile.FirstName, profile.LastName, profile.Role, profile.InvitationID, profile.CreatedAt)
	if err != nil {
		return postgres.MapError(err, "insert profile")
	}
	return nil
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := postgres.QuerierFromCtx(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, postgres.MapError(err, "check account email")
	}
	return exists, nil
}

func (s *PostgresStore) FindProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := postgres.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, `
		SELECT user_id, email, first_name, last_name, role, invitation_id, created_at
		FROM profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.InvitationID, &p.CreatedAt)
	if err != nil {
		return nil, postgres.MapError(err, "find profile")
	}
	return &p, nil
}
