package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"agentgate/pkg/platform/sentinel"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
)

const tokenBytes = 32

// InvalidInvitationMessage is the only text a caller ever sees for a token
// that cannot be used, whatever the underlying reason.
const InvalidInvitationMessage = "Invalid or expired invitation"

// InvitationToken is a single-use, time-bound invitation to register.
// Tokens are never deleted; pending moves to accepted at most once.
type InvitationToken struct {
	ID               uuid.UUID
	Email            string
	Token            string
	Status           Status
	ExpiresAt        time.Time
	CreatedBy        string
	InviterEmail     string
	CreatedAt        time.Time
	AcceptedAt       *time.Time
	AcceptedByUserID *uuid.UUID
}

// NewInvitation builds a pending invitation for an already-normalized email.
func NewInvitation(email, createdBy, inviterEmail string, ttl time.Duration, now time.Time) (*InvitationToken, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	return &InvitationToken{
		ID:           uuid.New(),
		Email:        email,
		Token:        token,
		Status:       StatusPending,
		ExpiresAt:    now.Add(ttl),
		CreatedBy:    createdBy,
		InviterEmail: inviterEmail,
		CreatedAt:    now,
	}, nil
}

// NewToken returns 32 bytes of crypto randomness, RawURL base64 encoded.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsLive reports whether the invitation is pending and unexpired at now.
func (t *InvitationToken) IsLive(now time.Time) bool {
	return t.Status == StatusPending && t.ExpiresAt.After(now)
}

// Redeemable reports whether (token, email) may be used at now. It evaluates
// every predicate at once, the same way the database query does.
func (t *InvitationToken) Redeemable(token, email string, now time.Time) bool {
	return t.Token == token && t.Email == email && t.IsLive(now)
}

// MarkAccepted records the acceptance. Callers check Redeemable first.
func (t *InvitationToken) MarkAccepted(userID uuid.UUID, now time.Time) {
	t.Status = StatusAccepted
	t.AcceptedAt = &now
	t.AcceptedByUserID = &userID
}

// RejectionReason explains why a presented (token, email) pair was refused.
// The result is for audit records only and never reaches the caller.
func (t *InvitationToken) RejectionReason(email string, now time.Time) error {
	switch {
	case t.Status == StatusAccepted:
		return sentinel.ErrAlreadyUsed
	case t.Status == StatusExpired || !t.ExpiresAt.After(now):
		return sentinel.ErrExpired
	case t.Email != email:
		return sentinel.ErrConflict
	default:
		return nil
	}
}
