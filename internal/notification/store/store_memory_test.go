package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"agentgate/internal/notification/models"
	"agentgate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) saveFailed(attempts int, lastAttempt time.Time) uuid.UUID {
	msg := &models.NotificationMessage{
		ID:            uuid.New(),
		Recipients:    models.Recipients{{Email: "a@example.com"}},
		Subject:       "s",
		TextBody:      "b",
		TemplateKind:  models.KindInviteSent,
		AttemptCount:  attempts,
		LastAttemptAt: lastAttempt,
		Status:        models.StatusFailed,
		CreatedAt:     lastAttempt,
	}
	s.Require().NoError(s.store.SaveFailed(context.Background(), msg))
	return msg.ID
}

func (s *InMemoryStoreSuite) params(limit int) ClaimParams {
	return ClaimParams{Now: s.now, MaxAttempts: 3, Lease: 10 * time.Minute, Limit: limit}
}

func (s *InMemoryStoreSuite) TestClaimBatchSelectsOldestRetryable() {
	ctx := context.Background()
	older := s.saveFailed(1, s.now.Add(-2*time.Hour))
	newer := s.saveFailed(2, s.now.Add(-time.Hour))
	ceiling := s.saveFailed(3, s.now.Add(-3*time.Hour))

	claimed, err := s.store.ClaimBatch(ctx, s.params(1))
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(older, claimed[0].ID)
	s.Equal(2, claimed[0].AttemptCount)
	s.Equal(models.StatusPending, claimed[0].Status)
	s.Equal(s.now, claimed[0].LastAttemptAt)

	claimed, err = s.store.ClaimBatch(ctx, s.params(10))
	s.Require().NoError(err)
	s.Require().Len(claimed, 1, "pending and ceiling rows are skipped")
	s.Equal(newer, claimed[0].ID)

	stuck, err := s.store.Get(ctx, ceiling)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stuck.Status)
	s.Equal(3, stuck.AttemptCount)
}

func (s *InMemoryStoreSuite) TestFinalize() {
	ctx := context.Background()
	id := s.saveFailed(1, s.now.Add(-time.Hour))

	claimed, err := s.store.ClaimBatch(ctx, s.params(10))
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)

	s.ErrorIs(s.store.MarkDelivered(ctx, id, s.now.Add(-time.Second), s.now), sentinel.ErrConflict, "stale claim")
	s.Require().NoError(s.store.MarkDelivered(ctx, id, claimed[0].LastAttemptAt, s.now))

	msg, err := s.store.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusDelivered, msg.Status)
	s.NotNil(msg.DeliveredAt)
	s.ErrorIs(s.store.MarkFailed(ctx, id, claimed[0].LastAttemptAt, "late"), sentinel.ErrConflict, "delivered is terminal")
}

func (s *InMemoryStoreSuite) TestAbandonedClaimIsRecovered() {
	ctx := context.Background()
	id := s.saveFailed(1, s.now.Add(-time.Hour))

	_, err := s.store.ClaimBatch(ctx, s.params(10))
	s.Require().NoError(err)

	s.now = s.now.Add(11 * time.Minute)
	claimed, err := s.store.ClaimBatch(ctx, s.params(10))
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(id, claimed[0].ID)
	s.Equal(3, claimed[0].AttemptCount)

	s.now = s.now.Add(11 * time.Minute)
	claimed, err = s.store.ClaimBatch(ctx, s.params(10))
	s.Require().NoError(err)
	s.Empty(claimed)

	msg, err := s.store.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, msg.Status)
	s.Equal(3, msg.AttemptCount)
	s.Equal(leaseExpiredError, msg.LastError)
}
