package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/pkg/platform/sentinel"
)

func TestNewInvitation(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	inv, err := NewInvitation("a@example.com", "admin-1", "boss@example.com", 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, inv.Status)
	assert.Equal(t, now.Add(24*time.Hour), inv.ExpiresAt)
	assert.Len(t, inv.Token, 43)
	assert.True(t, inv.IsLive(now))

	_, err = NewInvitation("", "admin-1", "", time.Hour, now)
	assert.Error(t, err)
	_, err = NewInvitation("a@example.com", "admin-1", "", 0, now)
	assert.Error(t, err)
}

func TestNewTokenIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		token, err := NewToken()
		require.NoError(t, err)
		_, dup := seen[token]
		require.False(t, dup)
		seen[token] = struct{}{}
	}
}

func TestRedeemable(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inv, err := NewInvitation("a@example.com", "admin-1", "", time.Hour, now)
	require.NoError(t, err)

	assert.True(t, inv.Redeemable(inv.Token, "a@example.com", now))
	assert.False(t, inv.Redeemable(inv.Token, "b@example.com", now))
	assert.False(t, inv.Redeemable("other", "a@example.com", now))
	assert.False(t, inv.Redeemable(inv.Token, "a@example.com", now.Add(time.Hour)), "expiry is exclusive")

	inv.MarkAccepted(uuid.New(), now)
	assert.False(t, inv.Redeemable(inv.Token, "a@example.com", now))
	require.NotNil(t, inv.AcceptedAt)
}

func TestRejectionReason(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inv, err := NewInvitation("a@example.com", "admin-1", "", time.Hour, now)
	require.NoError(t, err)

	assert.NoError(t, inv.RejectionReason("a@example.com", now))
	assert.ErrorIs(t, inv.RejectionReason("b@example.com", now), sentinel.ErrConflict)
	assert.ErrorIs(t, inv.RejectionReason("a@example.com", now.Add(2*time.Hour)), sentinel.ErrExpired)

	inv.MarkAccepted(uuid.New(), now)
	assert.ErrorIs(t, inv.RejectionReason("a@example.com", now), sentinel.ErrAlreadyUsed)
}
