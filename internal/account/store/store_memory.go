package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentgate/internal/account/models"
	"agentgate/pkg/platform/sentinel"
)

// InMemoryStore holds accounts and profiles for tests and development.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.Account
	byEmail  map[string]uuid.UUID
	profiles map[uuid.UUID]*models.Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[uuid.UUID]*models.Account),
		byEmail:  make(map[string]uuid.UUID),
		profiles: make(map[uuid.UUID]*models.Profile),
	}
}

func (s *InMemoryStore) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[account.Email]; taken {
		return fmt.Errorf("account email: %w", sentinel.ErrConflict)
	}
	stored := *account
	s.accounts[account.ID] = &stored
	s.byEmail[account.Email] = account.ID
	return nil
}

// DeleteAccount removes the account and its profile.
func (s *InMemoryStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.byEmail, account.Email)
	delete(s.accounts, id)
	delete(s.profiles, id)
	return nil
}

func (s *InMemoryStore) CreateProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[profile.UserID]; !ok {
		return fmt.Errorf("profile owner %s: %w", profile.UserID, sentinel.ErrNotFound)
	}
	stored := *profile
	s.profiles[profile.UserID] = &stored
	return nil
}

func (s *InMemoryStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *InMemoryStore) FindProfile(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, sentinel.ErrNotFound)
	}
	copied := *profile
	return &copied, nil
}
