package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentgate/internal/notification/models"
	"agentgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*models.NotificationMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[uuid.UUID]*models.NotificationMessage)}
}

func (s *InMemoryStore) SaveFailed(_ context.Context, msg *models.NotificationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("notification %s: %w", msg.ID, sentinel.ErrConflict)
	}
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

// ClaimBatch releases abandoned claims, then moves up to Limit retryable rows
// to pending, oldest attempt first.
func (s *InMemoryStore) ClaimBatch(_ context.Context, p ClaimParams) ([]*models.NotificationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*models.NotificationMessage, 0)
	for _, msg := range s.messages {
		if msg.LeaseExpired(p.Now, p.Lease) {
			msg.Status = models.StatusFailed
			msg.LastError = leaseExpiredError
		}
		if msg.Retryable(p.MaxAttempts) {
			candidates = append(candidates, msg)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAttemptAt.Before(candidates[j].LastAttemptAt)
	})
	if len(candidates) > p.Limit {
		candidates = candidates[:p.Limit]
	}

	claimed := make([]*models.NotificationMessage, 0, len(candidates))
	for _, msg := range candidates {
		msg.Status = models.StatusPending
		msg.AttemptCount++
		msg.LastAttemptAt = p.Now
		copied := *msg
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkDelivered(_ context.Context, id uuid.UUID, claimedAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.claimedLocked(id, claimedAt)
	if err != nil {
		return err
	}
	msg.Status = models.StatusDelivered
	msg.LastError = ""
	msg.DeliveredAt = &now
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, id uuid.UUID, claimedAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.claimedLocked(id, claimedAt)
	if err != nil {
		return err
	}
	msg.Status = models.StatusFailed
	msg.LastError = lastError
	return nil
}

func (s *InMemoryStore) claimedLocked(id uuid.UUID, claimedAt time.Time) (*models.NotificationMessage, error) {
	msg, ok := s.messages[id]
	if !ok || msg.Status != models.StatusPending || !msg.LastAttemptAt.Equal(claimedAt) {
		return nil, fmt.Errorf("notification %s is not held by this claim: %w", id, sentinel.ErrConflict)
	}
	return msg, nil
}

// Get returns a copy of one message.
func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*models.NotificationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, sentinel.ErrNotFound)
	}
	copied := *msg
	return &copied, nil
}

// All returns copies of every message.
func (s *InMemoryStore) All() []*models.NotificationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.NotificationMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		copied := *msg
		out = append(out, &copied)
	}
	return out
}
