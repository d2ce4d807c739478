package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	accountService "agentgate/internal/account/service"
	accountStore "agentgate/internal/account/store"
	invitationModels "agentgate/internal/invitation/models"
	invitationService "agentgate/internal/invitation/service"
	invitationStore "agentgate/internal/invitation/store"
	jwttoken "agentgate/internal/jwt_token"
	notificationModels "agentgate/internal/notification/models"
	"agentgate/internal/notification/render"
	rlModels "agentgate/internal/ratelimit/models"
	"agentgate/internal/ratelimit/ports"
	"agentgate/internal/ratelimit/service/limiter"
	"agentgate/internal/ratelimit/store/window"
	"agentgate/pkg/platform/audit"
	auditmemory "agentgate/pkg/platform/audit/store/memory"
	authmw "agentgate/pkg/platform/middleware/auth"
	"agentgate/pkg/platform/middleware/metadata"
)

const (
	jwtSecret      = "handler-test-secret-of-32-bytes!!"
	strongPassword = "Quota-Crusher-2026"
	clientAddr     = "203.0.113.7:41000"
)

type sentMessage struct {
	To  []string
	Msg render.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Send(_ context.Context, to notificationModels.Recipients, msg render.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: to.Addresses(), Msg: msg})
	return true
}

func (n *recordingNotifier) ofKind(kind notificationModels.TemplateKind) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.Msg.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type brokenWindowStore struct{}

func (brokenWindowStore) Increment(context.Context, string, time.Time, time.Duration, int) (int, bool, error) {
	return 0, false, errors.New("dial tcp: connection refused")
}

type HandlerSuite struct {
	suite.Suite
	clock      *clockwork.FakeClock
	events     *auditmemory.InMemoryStore
	auditor    *audit.Recorder
	notifier   *recordingNotifier
	handler    *Handler
	router     http.Handler
	adminToken string
	logger     *slog.Logger
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	s.events = auditmemory.NewInMemoryStore()
	s.notifier = &recordingNotifier{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.auditor, err = audit.New(s.events, audit.WithClock(s.clock), audit.WithLogger(s.logger))
	s.Require().NoError(err)

	s.build(window.NewInMemoryStore(window.WithMemoryClock(s.clock)))
}

func (s *HandlerSuite) build(windows ports.WindowStore) {
	lim, err := limiter.New(windows, limiter.WithAuditor(s.auditor), limiter.WithClock(s.clock), limiter.WithLogger(s.logger))
	s.Require().NoError(err)

	accounts := accountStore.NewInMemoryStore()
	invitations, err := invitationService.New(invitationStore.NewInMemoryStore(), accounts, s.auditor,
		invitationService.WithClock(s.clock), invitationService.WithLogger(s.logger))
	s.Require().NoError(err)
	registrar, err := accountService.New(accounts, accounts, invitations, s.auditor,
		accountService.WithClock(s.clock),
		accountService.WithLogger(s.logger),
		accountService.WithBcryptCost(bcrypt.MinCost),
	)
	s.Require().NoError(err)

	s.handler, err = New(lim, invitations, registrar, s.notifier, s.auditor, Config{
		Policies: Policies{
			Invite:        rlModels.Policy{Name: rlModels.PolicyInvite, Window: time.Hour, MaxAttempts: 20},
			ValidateToken: rlModels.Policy{Name: rlModels.PolicyValidateToken, Window: 15 * time.Minute, MaxAttempts: 10},
			CreateAccount: rlModels.Policy{Name: rlModels.PolicyCreateAccount, Window: 15 * time.Minute, MaxAttempts: 5},
		},
		InvitationTTL: 72 * time.Hour,
		AcceptBaseURL: "https://app.example.com/accept-invite",
		LoginURL:      "https://app.example.com/login",
		ProductName:   "Agentgate",
	}, WithClock(s.clock), WithLogger(s.logger))
	s.Require().NoError(err)

	jwts := jwttoken.NewJWTService(jwtSecret, "agentgate", jwttoken.WithClock(s.clock))
	s.adminToken, err = jwts.GenerateToken("admin-7", "lead@example.com", "admin", time.Hour)
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata(false))
	s.handler.Register(r, authmw.RequireRole(jwttoken.NewJWTServiceAdapter(jwts), "admin", s.auditor, s.logger))
	s.router = r
}

func (s *HandlerSuite) post(path string, body any, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		s.Require().NoError(json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.RemoteAddr = clientAddr
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func (s *HandlerSuite) invite(addr string) string {
	rec, body := s.post("/invite", map[string]string{"email": addr}, s.adminToken)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Require().Equal(true, body["success"])

	sent := s.notifier.ofKind(notificationModels.KindInviteSent)
	s.Require().NotEmpty(sent)
	accept, err := url.Parse(sent[len(sent)-1].Msg.Data["AcceptURL"].(string))
	s.Require().NoError(err)
	return accept.Query().Get("token")
}

func (s *HandlerSuite) TestIssueValidateConflict() {
	rec, body := s.post("/invite", map[string]string{"email": " New@Example.com "}, s.adminToken)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(true, body["success"])
	s.Equal(true, body["emailSent"])
	s.NotEmpty(body["invitationId"])

	sent := s.notifier.ofKind(notificationModels.KindInviteSent)
	s.Require().Len(sent, 1)
	s.Equal([]string{"new@example.com"}, sent[0].To)
	s.Equal("lead@example.com", sent[0].Msg.Data["InviterName"])
	accept, err := url.Parse(sent[0].Msg.Data["AcceptURL"].(string))
	s.Require().NoError(err)
	token := accept.Query().Get("token")
	s.Len(token, 43)

	issued := s.events.OfType(audit.EventInvitationIssued)
	s.Require().Len(issued, 1)
	s.Equal("admin-7", issued[0].ActorID)
	s.Len(s.events.OfType(audit.EventInvitationSent), 1)

	rec, body = s.post("/validate-token", map[string]string{"token": token, "email": "new@example.com"}, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(map[string]any{"valid": true}, body)
	s.Len(s.events.OfType(audit.EventInvitationValidated), 1)

	rec, body = s.post("/invite", map[string]string{"email": "new@example.com"}, s.adminToken)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(false, body["success"])
	s.Equal("conflict", body["code"])
}

func (s *HandlerSuite) TestInviteRequiresAdminToken() {
	rec, _ := s.post("/invite", map[string]string{"email": "new@example.com"}, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Len(s.events.OfType(audit.EventUnauthorizedAccess), 1)
	s.Empty(s.events.OfType(audit.EventInvitationIssued))
}

func (s *HandlerSuite) TestInviteRejectsBadEmail() {
	rec, body := s.post("/invite", map[string]string{"email": "not-an-email"}, s.adminToken)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(false, body["success"])
	s.Equal("validation_error", body["code"])
	s.Len(s.events.OfType(audit.EventInvitationIssueRejected), 1)
}

func (s *HandlerSuite) TestValidateTokenGenericError() {
	token := s.invite("agent@example.com")

	_, wrongEmail := s.post("/validate-token", map[string]string{"token": token, "email": "other@example.com"}, "")
	_, unknown := s.post("/validate-token", map[string]string{"token": "does-not-exist", "email": "agent@example.com"}, "")

	s.Equal(false, wrongEmail["valid"])
	s.Equal(invitationModels.InvalidInvitationMessage, wrongEmail["error"])
	s.Equal(wrongEmail, unknown)

	attempts := s.events.OfType(audit.EventInvalidInvitationAttempt)
	s.Require().Len(attempts, 2)
	s.Equal("email_mismatch", attempts[0].Payload["reason"])
	s.Equal("unknown_token", attempts[1].Payload["reason"])
}

func (s *HandlerSuite) TestCreateAccountSixthAttemptDenied() {
	for i := range 5 {
		rec, body := s.post("/create-account", map[string]string{
			"token": "guess", "email": "agent@example.com", "password": strongPassword,
		}, "")
		s.Equal(http.StatusOK, rec.Code, "attempt %d", i+1)
		s.Equal("invalid_or_expired", body["code"], "attempt %d is admitted", i+1)
	}

	rec, body := s.post("/create-account", map[string]string{
		"token": "guess", "email": "agent@example.com", "password": strongPassword,
	}, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(false, body["success"])
	s.Equal("admission_denied", body["code"])
	s.Equal("900", rec.Header().Get("Retry-After"))

	exceeded := s.events.OfType(audit.EventRateLimitExceeded)
	s.Require().Len(exceeded, 1)
	s.Equal("create_user:203.0.113.7", exceeded[0].Payload["key"])
	s.Len(s.events.OfType(audit.EventInvitationAcceptFailed), 5)
}

func (s *HandlerSuite) TestCreateAccountNotifiesAgentAndInviter() {
	token := s.invite("jane.doe@example.com")

	rec, body := s.post("/create-account", map[string]string{
		"token":    token,
		"email":    "Jane.Doe@example.com",
		"password": strongPassword,
	}, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(true, body["success"])
	user := body["user"].(map[string]any)
	s.Equal("jane.doe@example.com", user["email"])
	s.NotEmpty(user["id"])

	s.Require().NoError(s.handler.Wait(context.Background()))
	welcome := s.notifier.ofKind(notificationModels.KindAccountCreated)
	s.Require().Len(welcome, 1)
	s.Equal([]string{"jane.doe@example.com"}, welcome[0].To)
	s.Equal("Jane", welcome[0].Msg.Data["FirstName"])

	notice := s.notifier.ofKind(notificationModels.KindInvitationAcceptedNotice)
	s.Require().Len(notice, 1)
	s.Equal([]string{"lead@example.com"}, notice[0].To)
	s.Equal("Jane Doe", notice[0].Msg.Data["AgentName"])

	rec, body = s.post("/create-account", map[string]string{
		"token": token, "email": "jane.doe@example.com", "password": strongPassword,
	}, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("invalid_or_expired", body["code"], "a token is single use")
}

func (s *HandlerSuite) TestCreateAccountWeakPassword() {
	token := s.invite("weak@example.com")

	rec, body := s.post("/create-account", map[string]string{
		"token": token, "email": "weak@example.com", "password": "short",
	}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("validation_error", body["code"])
	s.Contains(body["error"], "password is too short")
	s.Empty(s.events.OfType(audit.EventInvitationAccepted))
}

func (s *HandlerSuite) TestMalformedJSON() {
	rec, body := s.post("/create-account", `{"token":`, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(false, body["success"])
	s.Equal("bad_request", body["code"])

	failed := s.events.OfType(audit.EventAccountCreationFailed)
	s.Require().Len(failed, 1)
	s.Equal("malformed_request", failed[0].Payload["reason"])
}

func (s *HandlerSuite) TestStoreOutageFailsClosed() {
	s.build(brokenWindowStore{})

	rec, body := s.post("/validate-token", map[string]string{"token": "t", "email": "a@example.com"}, "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal(false, body["valid"])
	s.Equal("store_unavailable", body["code"])
	s.Len(s.events.OfType(audit.EventRateLimitStoreUnavailable), 1)
	s.Empty(s.events.OfType(audit.EventInvalidInvitationAttempt))
}
