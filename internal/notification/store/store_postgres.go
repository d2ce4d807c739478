package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"agentgate/internal/notification/models"
	"agentgate/internal/platform/postgres"
	"agentgate/pkg/platform/sentinel"
)

var messageColumns = []string{
	"id", "recipients", "subject", "text_body", "html_body", "template_kind",
	"attempt_count", "last_attempt_at", "last_error", "status", "created_at", "delivered_at",
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	postgres.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
	sq squirrel.StatementBuilderType
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *PostgresStore) SaveFailed(ctx context.Context, msg *models.NotificationMessage) error {
	recipients, err := json.Marshal(msg.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	query, args, err := s.sq.Insert("notification_messages").
		Columns(messageColumns[:11]...).
		Values(msg.ID, recipients, msg.Subject, msg.TextBody, msg.HTMLBody, string(msg.TemplateKind),
			msg.AttemptCount, msg.LastAttemptAt, msg.LastError, string(msg.Status), msg.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return postgres.MapError(err, "insert notification")
	}
	return nil
}

// ClaimBatch runs in one transaction: abandoned pending rows go back to
// failed, then up to Limit retryable rows are locked with SKIP LOCKED and
// moved to pending with their attempt counted. Concurrent sweeps never see
// the same row.
func (s *PostgresStore) ClaimBatch(ctx context.Context, p ClaimParams) ([]*models.NotificationMessage, error) {
	var claimed []*models.NotificationMessage
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		release, args, err := s.sq.Update("notification_messages").
			Set("status", string(models.StatusFailed)).
			Set("last_error", leaseExpiredError).
			Where(squirrel.Eq{"status": string(models.StatusPending)}).
			Where(squirrel.LtOrEq{"last_attempt_at": p.LeaseCutoff()}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build release: %w", err)
		}
		if _, err := tx.Exec(ctx, release, args...); err != nil {
			return postgres.MapError(err, "release expired claims")
		}

		candidates := squirrel.Select("id").
			From("notification_messages").
			Where(squirrel.Eq{"status": string(models.StatusFailed)}).
			Where(squirrel.Lt{"attempt_count": p.MaxAttempts}).
			OrderBy("last_attempt_at ASC").
			Limit(uint64(p.Limit)).
			Suffix("FOR UPDATE SKIP LOCKED")

		claim, args, err := s.sq.Update("notification_messages").
			Set("status", string(models.StatusPending)).
			Set("attempt_count", squirrel.Expr("attempt_count + 1")).
			Set("last_attempt_at", p.Now).
			Where(squirrel.Expr("id IN (?)", candidates)).
			Suffix("RETURNING " + strings.Join(messageColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build claim: %w", err)
		}

		rows, err := tx.Query(ctx, claim, args...)
		if err != nil {
			return postgres.MapError(err, "claim notifications")
		}
		claimed, err = pgx.CollectRows(rows, scanMessage)
		if err != nil {
			return postgres.MapError(err, "scan claimed notifications")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id uuid.UUID, claimedAt, now time.Time) error {
	return s.finalize(ctx, id, claimedAt, squirrel.Eq{
		"status":       string(models.StatusDelivered),
		"last_error":   "",
		"delivered_at": now,
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, claimedAt time.Time, lastError string) error {
	return s.finalize(ctx, id, claimedAt, squirrel.Eq{
		"status":     string(models.StatusFailed),
		"last_error": lastError,
	})
}

// finalize only touches a row still held by the caller's claim.
func (s *PostgresStore) finalize(ctx context.Context, id uuid.UUID, claimedAt time.Time, set squirrel.Eq) error {
	query, args, err := s.sq.Update("notification_messages").
		SetMap(set).
		Where(squirrel.Eq{"id": id, "status": string(models.StatusPending), "last_attempt_at": claimedAt}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finalize: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return postgres.MapError(err, "finalize notification")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s is not held by this claim: %w", id, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.NotificationMessage, error) {
	query, args, err := s.sq.Select(messageColumns...).
		From("notification_messages").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.MapError(err, "get notification")
	}
	msg, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		return nil, postgres.MapError(err, "get notification")
	}
	return msg, nil
}

func scanMessage(row pgx.CollectableRow) (*models.NotificationMessage, error) {
	var (
		msg        models.NotificationMessage
		recipients []byte
		kind       string
		status     string
	)
	if err := row.Scan(
		&msg.ID,
		&recipients,
		&msg.Subject,
		&msg.TextBody,
		&msg.HTMLBody,
		&kind,
		&msg.AttemptCount,
		&msg.LastAttemptAt,
		&msg.LastError,
		&status,
		&msg.CreatedAt,
		&msg.DeliveredAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &msg.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	msg.TemplateKind = models.TemplateKind(kind)
	msg.Status = models.Status(status)
	return &msg, nil
}
