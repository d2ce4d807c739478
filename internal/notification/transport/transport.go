//go:generate mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mocks Transport

// Package transport delivers rendered messages to an outbound mail provider.
package transport

import (
	"context"

	"agentgate/internal/notification/models"
)

// Envelope is one provider call.
type Envelope struct {
	From     models.Recipient
	To       models.Recipients
	Subject  string
	TextBody string
	HTMLBody string
	Kind     models.TemplateKind
}

// Receipt identifies an accepted provider call.
type Receipt struct {
	Provider   string
	MessageID  string
	StatusCode int
}

// Transport sends an envelope. An error means the provider did not accept
// the message; the caller decides whether to retry.
type Transport interface {
	Send(ctx context.Context, env Envelope) (Receipt, error)
}
