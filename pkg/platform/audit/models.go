package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose so stores
// and mirrors can route or retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers account and invitation lifecycle changes.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers abuse signals and admission decisions.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers delivery and infrastructure events.
	CategoryOperations EventCategory = "operations"
)

// EventType is the enumerated tag of an audit event.
type EventType string

const (
	// Admission control
	EventRateLimitExceeded         EventType = "rate_limit_exceeded"
	EventRateLimitStoreUnavailable EventType = "rate_limit_store_unavailable"
	EventUnauthorizedAccess        EventType = "unauthorized_access"
	EventSuspiciousActivity        EventType = "suspicious_activity"

	// Invitation lifecycle
	EventInvitationIssued         EventType = "invitation_issued"
	EventInvitationIssueRejected  EventType = "invitation_issue_rejected"
	EventInvitationSent           EventType = "invitation_sent"
	EventInvitationValidated      EventType = "invitation_validated"
	EventInvalidInvitationAttempt EventType = "invalid_invitation_attempt"
	EventInvitationAccepted       EventType = "invitation_accepted"
	EventInvitationAcceptFailed   EventType = "invitation_accept_failed"

	// Accounts
	EventAccountCreated        EventType = "account_created"
	EventAccountCreationFailed EventType = "account_creation_failed"
	EventAccountRolledBack     EventType = "account_rolled_back"

	// Notifications
	EventNotificationFailed    EventType = "notification_failed"
	EventNotificationRecovered EventType = "notification_recovered"
)

var eventCategories = map[EventType]EventCategory{
	EventRateLimitExceeded:         CategorySecurity,
	EventRateLimitStoreUnavailable: CategorySecurity,
	EventUnauthorizedAccess:        CategorySecurity,
	EventSuspiciousActivity:        CategorySecurity,
	EventInvalidInvitationAttempt:  CategorySecurity,
	EventInvitationAcceptFailed:    CategorySecurity,

	EventInvitationIssued:        CategoryCompliance,
	EventInvitationIssueRejected: CategoryCompliance,
	EventInvitationSent:          CategoryCompliance,
	EventInvitationValidated:     CategoryCompliance,
	EventInvitationAccepted:      CategoryCompliance,
	EventAccountCreated:          CategoryCompliance,
	EventAccountCreationFailed:   CategoryCompliance,
	EventAccountRolledBack:       CategoryCompliance,

	EventNotificationFailed:    CategoryOperations,
	EventNotificationRecovered: CategoryOperations,
}

// Category returns the category for this event type.
// Unknown types default to CategoryOperations.
func (e EventType) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is an immutable audit record. OccurredAt is the time of the triggering
// action, never the time of persistence.
type Event struct {
	ID            uuid.UUID
	Type          EventType
	Category      EventCategory
	ActorID       string
	SourceAddress string
	ClientAgent   string
	RequestID     string
	Payload       map[string]any
	OccurredAt    time.Time
	Digest        string
}

// EventContext carries the caller-supplied parts of an event. Empty provenance
// fields are filled from the request context.
type EventContext struct {
	ActorID       string
	SourceAddress string
	ClientAgent   string
	Payload       map[string]any
}

// Store persists events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Mirror receives a copy of every persisted event, e.g. a streaming sink.
type Mirror interface {
	Publish(ctx context.Context, event Event) error
}

// Recordable is the write side consumed by services.
type Recordable interface {
	Record(ctx context.Context, eventType EventType, ec EventContext)
}
