package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentgate/internal/invitation/models"
	"agentgate/pkg/platform/sentinel"

	"github.com/google/uuid"
)

// InMemoryStore keeps invitations in a map for tests and single-instance
// development. One mutex serializes every check-and-mutate.
type InMemoryStore struct {
	mu          sync.Mutex
	invitations map[uuid.UUID]*models.InvitationToken
	byToken     map[string]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		invitations: make(map[uuid.UUID]*models.InvitationToken),
		byToken:     make(map[string]uuid.UUID),
	}
}

// CreatePending expires stale pending rows for the email, refuses when a live
// one remains and otherwise stores inv.
func (s *InMemoryStore) CreatePending(_ context.Context, inv *models.InvitationToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invitations {
		if existing.Email != inv.Email || existing.Status != models.StatusPending {
			continue
		}
		if existing.IsLive(now) {
			return fmt.Errorf("pending invitation exists: %w", sentinel.ErrConflict)
		}
		existing.Status = models.StatusExpired
	}
	if _, taken := s.byToken[inv.Token]; taken {
		return fmt.Errorf("token collision: %w", sentinel.ErrConflict)
	}

	stored := *inv
	s.invitations[inv.ID] = &stored
	s.byToken[inv.Token] = inv.ID
	return nil
}

func (s *InMemoryStore) FindRedeemable(_ context.Context, token, email string, now time.Time) (*models.InvitationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.lookupLocked(token)
	if inv == nil || !inv.Redeemable(token, email, now) {
		return nil, fmt.Errorf("invitation not redeemable: %w", sentinel.ErrNotFound)
	}
	copied := *inv
	return &copied, nil
}

func (s *InMemoryStore) Accept(_ context.Context, token, email string, userID uuid.UUID, now time.Time) (*models.InvitationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.lookupLocked(token)
	if inv == nil || !inv.Redeemable(token, email, now) {
		return nil, fmt.Errorf("invitation not redeemable: %w", sentinel.ErrNotFound)
	}
	inv.MarkAccepted(userID, now)
	copied := *inv
	return &copied, nil
}

// Reopen reverts an accepted invitation to pending. It is the compensating
// action for stores without transactions.
func (s *InMemoryStore) Reopen(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return fmt.Errorf("invitation %s: %w", id, sentinel.ErrNotFound)
	}
	inv.Status = models.StatusPending
	inv.AcceptedAt = nil
	inv.AcceptedByUserID = nil
	return nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.InvitationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.lookupLocked(token)
	if inv == nil {
		return nil, fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
	}
	copied := *inv
	return &copied, nil
}

func (s *InMemoryStore) lookupLocked(token string) *models.InvitationToken {
	id, ok := s.byToken[token]
	if !ok {
		return nil
	}
	return s.invitations[id]
}
