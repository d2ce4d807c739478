package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 1, 10, 10, 7, 42, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), WindowStart(now, 15*time.Minute))
	assert.Equal(t, time.Date(2026, 1, 10, 10, 7, 0, 0, time.UTC), WindowStart(now, time.Minute))
	assert.Equal(t, WindowStart(now, time.Hour), WindowStart(now.In(time.FixedZone("X", 3600)), time.Hour))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "create_user:203.0.113.9", Key(PolicyCreateAccount, "203.0.113.9"))
	assert.Equal(t, "validate_token:2001_db8__1", Key(PolicyValidateToken, "2001:db8::1"))
	assert.Equal(t, "invite:unknown", Key(PolicyInvite, ""))
	assert.Equal(t, "validate_token", PolicyOf("validate_token:1.2.3.4"))
	assert.Equal(t, "custom", PolicyOf("plain"))
}

func TestRecordExpired(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &RateLimitRecord{WindowStart: start, Window: time.Minute}
	assert.False(t, r.Expired(start.Add(59*time.Second)))
	assert.True(t, r.Expired(start.Add(time.Minute)))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, (&Decision{}).RetryAfterSeconds())
	assert.Equal(t, 2, (&Decision{RetryAfter: 1500 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 60, (&Decision{RetryAfter: time.Minute}).RetryAfterSeconds())
}
