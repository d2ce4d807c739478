package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/notification/models"
	"agentgate/pkg/platform/sentinel"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresSaveFailed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	msg := &models.NotificationMessage{
		ID:            uuid.New(),
		Recipients:    models.Recipients{{Email: "a@example.com"}},
		Subject:       "Welcome",
		TextBody:      "hi",
		TemplateKind:  models.KindAccountCreated,
		AttemptCount:  3,
		LastAttemptAt: now,
		LastError:     "status 503",
		Status:        models.StatusFailed,
		CreatedAt:     now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_messages (id,recipients,subject")).
		WithArgs(pgxmock.AnyArg(), []byte(`[{"email":"a@example.com"}]`), "Welcome", "hi", "", "account_created",
			3, now, "status 503", "failed", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveFailed(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimBatch(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_messages SET status = $1, last_error = $2 WHERE status = $3 AND last_attempt_at <= $4")).
		WithArgs("failed", leaseExpiredError, "pending", now.Add(-10*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE notification_messages SET status = $1, attempt_count = attempt_count + 1, last_attempt_at = $2 WHERE id IN (SELECT id FROM notification_messages WHERE status = $3 AND attempt_count < $4 ORDER BY last_attempt_at ASC LIMIT 50 FOR UPDATE SKIP LOCKED) RETURNING id, recipients")).
		WithArgs("pending", now, "failed", 3).
		WillReturnRows(pgxmock.NewRows(messageColumns).
			AddRow(id, []byte(`[{"name":"Jane","email":"jane@example.com"}]`), "Welcome", "hi", "<p>hi</p>", "account_created",
				2, now, "", "pending", now.Add(-time.Hour), nil))
	mock.ExpectCommit()

	claimed, err := store.ClaimBatch(context.Background(), ClaimParams{Now: now, MaxAttempts: 3, Lease: 10 * time.Minute, Limit: 50})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, models.StatusPending, claimed[0].Status)
	assert.Equal(t, "jane@example.com", claimed[0].Recipients[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimBatchRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE notification_messages").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.ClaimBatch(context.Background(), ClaimParams{Now: time.Now(), MaxAttempts: 3, Lease: time.Minute, Limit: 10})
	assert.ErrorContains(t, err, "release expired claims")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinalizeRequiresClaim(t *testing.T) {
	store, mock := newMockStore(t)
	claimedAt := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_messages SET")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkDelivered(context.Background(), id, claimedAt, claimedAt.Add(time.Second)))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_messages SET")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.MarkFailed(context.Background(), id, claimedAt, "status 500")
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}
