package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"agentgate/internal/notification/models"
	"agentgate/internal/notification/render"
	"agentgate/internal/notification/store"
	"agentgate/internal/notification/transport"
	"agentgate/internal/notification/transport/mocks"
	"agentgate/pkg/platform/audit"
	auditmemory "agentgate/pkg/platform/audit/store/memory"
)

var errUnavailable = errors.New("sendgrid error: status 503")

type DispatcherSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	transport *mocks.MockTransport
	store     *store.InMemoryStore
	events    *auditmemory.InMemoryStore
	auditor   *audit.Recorder
	renderer  *render.Renderer
	clock     *clockwork.FakeClock
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.transport = mocks.NewMockTransport(s.ctrl)
	s.store = store.NewInMemoryStore()
	s.events = auditmemory.NewInMemoryStore()
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))

	var err error
	s.auditor, err = audit.New(s.events, audit.WithClock(s.clock), audit.WithLogger(discard()))
	s.Require().NoError(err)
	s.renderer, err = render.New()
	s.Require().NoError(err)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *DispatcherSuite) newDispatcher(cfg Config) *Dispatcher {
	cfg.From = models.Recipient{Name: "Onboarding", Email: "no-reply@example.com"}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 2 * time.Millisecond
	}
	d, err := New(s.transport, s.renderer, s.store, s.auditor, cfg, WithClock(s.clock), WithLogger(discard()))
	s.Require().NoError(err)
	return d
}

func welcome() render.Message {
	return render.Message{Kind: models.KindAccountCreated, Data: map[string]any{
		"ProductName": "Agentgate",
		"FirstName":   "Jane",
		"Email":       "jane@example.com",
		"LoginURL":    "https://app.example.com/login",
	}}
}

func recipients(addrs ...string) models.Recipients {
	rs := make(models.Recipients, len(addrs))
	for i, a := range addrs {
		rs[i] = models.Recipient{Email: a}
	}
	return rs
}

func (s *DispatcherSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.renderer, s.store, s.auditor, Config{From: models.Recipient{Email: "x@example.com"}})
	s.ErrorContains(err, "transport is required")
	_, err = New(s.transport, s.renderer, s.store, s.auditor, Config{})
	s.ErrorContains(err, "from address is required")
}

func (s *DispatcherSuite) TestFirstAttemptSucceeds() {
	d := s.newDispatcher(Config{MaxAttempts: 3})

	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env transport.Envelope) (transport.Receipt, error) {
			s.Equal("no-reply@example.com", env.From.Email)
			s.Equal([]string{"jane@example.com"}, env.To.Addresses())
			s.Equal("Welcome to Agentgate, Jane", env.Subject)
			s.Contains(env.HTMLBody, "<strong>")
			return transport.Receipt{Provider: "sendgrid", MessageID: "m-1"}, nil
		})

	s.True(d.Send(context.Background(), recipients(" Jane@Example.com ", "jane@example.com"), welcome()))
	s.Empty(s.store.All())
	s.Empty(s.events.OfType(audit.EventNotificationFailed))
}

func (s *DispatcherSuite) TestSuccessOnLaterAttemptPersistsNothing() {
	d := s.newDispatcher(Config{MaxAttempts: 3})

	gomock.InOrder(
		s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Receipt{}, errUnavailable),
		s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Receipt{MessageID: "m-2"}, nil),
	)

	s.True(d.Send(context.Background(), recipients("jane@example.com"), welcome()))
	s.Empty(s.store.All())
}

func (s *DispatcherSuite) TestExhaustionRecordsFailedMessage() {
	d := s.newDispatcher(Config{MaxAttempts: 3})
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Receipt{}, errUnavailable).Times(3)

	s.False(d.Send(context.Background(), recipients("jane@example.com"), welcome()))

	stored := s.store.All()
	s.Require().Len(stored, 1)
	s.Equal(models.StatusFailed, stored[0].Status)
	s.Equal(3, stored[0].AttemptCount)
	s.Equal(s.clock.Now(), stored[0].LastAttemptAt)
	s.Contains(stored[0].LastError, "status 503")
	s.Equal(models.KindAccountCreated, stored[0].TemplateKind)

	failed := s.events.OfType(audit.EventNotificationFailed)
	s.Require().Len(failed, 1)
	s.Equal(3, failed[0].Payload["attempt_count"])
	s.Equal(true, failed[0].Payload["persisted"])
}

func (s *DispatcherSuite) TestReducedInlineAttempts() {
	d := s.newDispatcher(Config{MaxAttempts: 3, InlineAttempts: 1})
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(transport.Receipt{}, errUnavailable).Times(1)

	s.False(d.Send(context.Background(), recipients("jane@example.com"), welcome()))
	stored := s.store.All()
	s.Require().Len(stored, 1)
	s.Equal(1, stored[0].AttemptCount)
	s.True(stored[0].Retryable(d.MaxAttempts()))
}

func (s *DispatcherSuite) TestWallClockTimeoutBoundsTheLoop() {
	d := s.newDispatcher(Config{
		MaxAttempts:    5,
		Timeout:        60 * time.Millisecond,
		AttemptTimeout: 40 * time.Millisecond,
	})
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ transport.Envelope) (transport.Receipt, error) {
			<-ctx.Done()
			return transport.Receipt{}, ctx.Err()
		}).
		MinTimes(1).MaxTimes(2)

	started := time.Now()
	s.False(d.Send(context.Background(), recipients("jane@example.com"), welcome()))
	s.Less(time.Since(started), time.Second)

	stored := s.store.All()
	s.Require().Len(stored, 1)
	s.GreaterOrEqual(stored[0].AttemptCount, 1)
	s.Less(stored[0].AttemptCount, 5)
	s.Contains(stored[0].LastError, "deadline exceeded")
}

func (s *DispatcherSuite) TestCallerCancellationDoesNotAbortDelivery() {
	d := s.newDispatcher(Config{MaxAttempts: 3})
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ transport.Envelope) (transport.Receipt, error) {
			return transport.Receipt{}, ctx.Err()
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.True(d.Send(ctx, recipients("jane@example.com"), welcome()))
}

func (s *DispatcherSuite) TestUnbuildableMessages() {
	d := s.newDispatcher(Config{MaxAttempts: 3})

	s.False(d.Send(context.Background(), models.Recipients{}, welcome()))
	s.False(d.Send(context.Background(), recipients("jane@example.com"), render.Message{Kind: "unknown"}))

	s.Empty(s.store.All())
	failed := s.events.OfType(audit.EventNotificationFailed)
	s.Require().Len(failed, 2)
	s.Equal("invalid_recipients", failed[0].Payload["reason"])
	s.Equal("render_failed", failed[1].Payload["reason"])
}

func (s *DispatcherSuite) TestAttemptBuildsEnvelopeFromStoredMessage() {
	d := s.newDispatcher(Config{MaxAttempts: 3})
	msg := &models.NotificationMessage{
		Recipients:   recipients("ops@example.com"),
		Subject:      "stored",
		TextBody:     "body",
		TemplateKind: models.KindInviteSent,
		AttemptCount: 2,
	}

	s.transport.EXPECT().Send(gomock.Any(), transport.Envelope{
		From:     models.Recipient{Name: "Onboarding", Email: "no-reply@example.com"},
		To:       msg.Recipients,
		Subject:  "stored",
		TextBody: "body",
		Kind:     models.KindInviteSent,
	}).Return(transport.Receipt{}, errUnavailable)

	err := d.Attempt(context.Background(), msg)
	s.ErrorIs(err, errUnavailable)
	s.ErrorContains(err, "attempt 2")
}
