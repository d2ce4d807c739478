package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient is the subset of *sendgrid.Client used here.
type SendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGrid struct {
	client SendGridClient
}

// NewSendGrid builds a transport backed by the SendGrid v3 mail API.
func NewSendGrid(apiKey string) (*SendGrid, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return NewSendGridWithClient(sendgrid.NewSendClient(apiKey)), nil
}

func NewSendGridWithClient(client SendGridClient) *SendGrid {
	return &SendGrid{client: client}
}

func (s *SendGrid) Send(ctx context.Context, env Envelope) (Receipt, error) {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(env.From.Name, env.From.Email))
	message.Subject = env.Subject

	personalization := mail.NewPersonalization()
	for _, to := range env.To {
		personalization.AddTos(mail.NewEmail(to.Name, to.Email))
	}
	message.AddPersonalizations(personalization)

	message.AddContent(mail.NewContent("text/plain", env.TextBody))
	if env.HTMLBody != "" {
		message.AddContent(mail.NewContent("text/html", env.HTMLBody))
	}
	message.AddCategories(string(env.Kind))

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return Receipt{}, fmt.Errorf("sendgrid send: %w", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return Receipt{}, fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}

	receipt := Receipt{Provider: "sendgrid", StatusCode: response.StatusCode}
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		receipt.MessageID = ids[0]
	}
	return receipt, nil
}
