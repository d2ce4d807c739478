//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"agentgate/internal/notification/models"
	"agentgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgresStore(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "notification_messages"))
}

func (s *PostgresStoreSuite) TestConcurrentClaimsAreDisjoint() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := range 40 {
		s.Require().NoError(s.store.SaveFailed(ctx, &models.NotificationMessage{
			ID:            uuid.New(),
			Recipients:    models.Recipients{{Email: "a@example.com"}},
			Subject:       "s",
			TextBody:      "b",
			TemplateKind:  models.KindInviteSent,
			AttemptCount:  1,
			LastAttemptAt: now.Add(-time.Duration(i) * time.Minute),
			Status:        models.StatusFailed,
			CreatedAt:     now,
		}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Go(func() {
			for {
				claimed, err := s.store.ClaimBatch(ctx, ClaimParams{Now: now, MaxAttempts: 3, Lease: time.Hour, Limit: 7})
				if err != nil || len(claimed) == 0 {
					s.NoError(err)
					return
				}
				mu.Lock()
				for _, msg := range claimed {
					seen[msg.ID]++
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	s.Len(seen, 40)
	for id, n := range seen {
		s.Equal(1, n, "message %s claimed more than once", id)
	}
}

func (s *PostgresStoreSuite) TestClaimFinalizeRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	s.Require().NoError(s.store.SaveFailed(ctx, &models.NotificationMessage{
		ID:            id,
		Recipients:    models.Recipients{{Name: "Jane", Email: "jane@example.com"}},
		Subject:       "s",
		TextBody:      "b",
		TemplateKind:  models.KindAccountCreated,
		AttemptCount:  2,
		LastAttemptAt: now.Add(-time.Hour),
		LastError:     "status 503",
		Status:        models.StatusFailed,
		CreatedAt:     now.Add(-time.Hour),
	}))

	claimed, err := s.store.ClaimBatch(ctx, ClaimParams{Now: now, MaxAttempts: 3, Lease: time.Hour, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(3, claimed[0].AttemptCount)

	s.Require().NoError(s.store.MarkFailed(ctx, id, claimed[0].LastAttemptAt, "status 502"))

	again, err := s.store.ClaimBatch(ctx, ClaimParams{Now: now.Add(time.Minute), MaxAttempts: 3, Lease: time.Hour, Limit: 10})
	s.Require().NoError(err)
	s.Empty(again, "row at the ceiling stays failed")

	msg, err := s.store.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, msg.Status)
	s.Equal("status 502", msg.LastError)
	s.Equal("Jane", msg.Recipients[0].Name)
}
