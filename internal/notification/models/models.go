package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a persisted notification.
type Status string

const (
	// StatusPending marks a row claimed by a sweep and being re-attempted.
	StatusPending Status = "pending"
	// StatusDelivered is terminal.
	StatusDelivered Status = "delivered"
	// StatusFailed rows are retried by the sweep until AttemptCount reaches the ceiling.
	StatusFailed Status = "failed"
)

// TemplateKind names an entry in the template catalog.
type TemplateKind string

const (
	KindInviteSent               TemplateKind = "invite_sent"
	KindAccountCreated           TemplateKind = "account_created"
	KindInvitationAcceptedNotice TemplateKind = "invitation_accepted_notice"
)

// NotificationMessage is a rendered message whose inline delivery failed.
// Successful inline sends are never persisted.
type NotificationMessage struct {
	ID            uuid.UUID
	Recipients    Recipients
	Subject       string
	TextBody      string
	HTMLBody      string
	TemplateKind  TemplateKind
	AttemptCount  int
	LastAttemptAt time.Time
	LastError     string
	Status        Status
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// Retryable reports whether a sweep may claim the message.
func (m *NotificationMessage) Retryable(maxAttempts int) bool {
	return m.Status == StatusFailed && m.AttemptCount < maxAttempts
}

// LeaseExpired reports whether a pending claim was abandoned.
func (m *NotificationMessage) LeaseExpired(now time.Time, lease time.Duration) bool {
	return m.Status == StatusPending && !m.LastAttemptAt.Add(lease).After(now)
}
