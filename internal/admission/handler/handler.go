// Package handler serves the admission-gated onboarding endpoints: invitation
// issuance, token validation and account creation.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	accountService "agentgate/internal/account/service"
	invitationModels "agentgate/internal/invitation/models"
	invitationService "agentgate/internal/invitation/service"
	notificationModels "agentgate/internal/notification/models"
	"agentgate/internal/notification/render"
	"agentgate/internal/platform/metrics"
	rlModels "agentgate/internal/ratelimit/models"
	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/platform/audit"
	"agentgate/pkg/platform/httputil"
	"agentgate/pkg/requestcontext"
)

const displayTimeLayout = "January 2, 2006 at 15:04 MST"

type Limiter interface {
	Check(ctx context.Context, policy rlModels.Policy, identifier string) *rlModels.Decision
}

type Invitations interface {
	Issue(ctx context.Context, req invitationService.IssueRequest) (*invitationModels.InvitationToken, error)
	Validate(ctx context.Context, token, email string) (*invitationModels.InvitationToken, error)
}

type Accounts interface {
	Register(ctx context.Context, req accountService.RegisterRequest) (*accountService.RegisterResult, error)
}

// Notifier delivers rendered e-mail; the dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, recipients notificationModels.Recipients, msg render.Message) bool
}

// Policies are the per-endpoint admission budgets.
type Policies struct {
	Invite        rlModels.Policy
	ValidateToken rlModels.Policy
	CreateAccount rlModels.Policy
}

type Config struct {
	Policies      Policies
	InvitationTTL time.Duration
	AcceptBaseURL string
	LoginURL      string
	ProductName   string
}

type Handler struct {
	limiter     Limiter
	invitations Invitations
	accounts    Accounts
	notifier    Notifier
	auditor     audit.Recordable
	logger      *slog.Logger
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	cfg         Config
	background  sync.WaitGroup
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(limiter Limiter, invitations Invitations, accounts Accounts, notifier Notifier, auditor audit.Recordable, cfg Config, opts ...Option) (*Handler, error) {
	switch {
	case limiter == nil:
		return nil, errors.New("limiter is required")
	case invitations == nil:
		return nil, errors.New("invitation service is required")
	case accounts == nil:
		return nil, errors.New("account service is required")
	case notifier == nil:
		return nil, errors.New("notifier is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	}
	if _, err := url.Parse(cfg.AcceptBaseURL); err != nil || cfg.AcceptBaseURL == "" {
		return nil, errors.New("a valid accept base url is required")
	}
	h := &Handler{
		limiter:     limiter,
		invitations: invitations,
		accounts:    accounts,
		notifier:    notifier,
		auditor:     auditor,
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the endpoints. Admission runs before authentication so
// credential guessing on /invite is throttled too.
func (h *Handler) Register(r chi.Router, requireAdmin func(http.Handler) http.Handler) {
	r.With(h.admit(h.cfg.Policies.Invite, flagSuccess), requireAdmin).Post("/invite", h.HandleInvite)
	r.With(h.admit(h.cfg.Policies.ValidateToken, flagValid)).Post("/validate-token", h.HandleValidateToken)
	r.With(h.admit(h.cfg.Policies.CreateAccount, flagSuccess)).Post("/create-account", h.HandleCreateAccount)
}

// Wait blocks until background notifications finish or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) admit(policy rlModels.Policy, flag string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision := h.limiter.Check(ctx, policy, requestcontext.ClientIP(ctx))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			err := dErrors.New(dErrors.CodeAdmissionDenied, tooManyAttemptsMessage)
			if decision.Degraded {
				err = dErrors.New(dErrors.CodeStoreUnavailable, unavailableMessage)
			} else if secs := decision.RetryAfterSeconds(); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			h.logger.InfoContext(ctx, "request denied by rate limiter",
				"policy", policy.Name,
				"key", decision.Key,
				"degraded", decision.Degraded,
				"request_id", requestcontext.RequestID(ctx),
			)
			h.metrics.IncRejection(policy.Name, string(dErrors.CodeOf(err)))
			writeRejection(w, flag, err)
		})
	}
}

// HandleInvite handles POST /invite.
func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actorID := requestcontext.ActorID(ctx)

	req, err := httputil.DecodeAndPrepare[InviteRequest](w, r)
	if err != nil {
		h.auditor.Record(ctx, audit.EventInvitationIssueRejected, audit.EventContext{
			ActorID: actorID,
			Payload: map[string]any{"reason": "malformed_request"},
		})
		h.fail(ctx, w, "invite", flagSuccess, err)
		return
	}

	inv, err := h.invitations.Issue(ctx, invitationService.IssueRequest{
		Email:        req.Email,
		TTL:          h.cfg.InvitationTTL,
		CreatedBy:    actorID,
		InviterEmail: requestcontext.ActorEmail(ctx),
	})
	if err != nil {
		h.fail(ctx, w, "invite", flagSuccess, err)
		return
	}
	h.metrics.IncInvitationsIssued()

	sent := h.sendInvite(ctx, inv)
	h.auditor.Record(ctx, audit.EventInvitationSent, audit.EventContext{
		ActorID: actorID,
		Payload: map[string]any{
			"invitation_id": inv.ID.String(),
			"email":         inv.Email,
			"email_sent":    sent,
		},
	})
	h.logger.InfoContext(ctx, "invitation issued",
		"request_id", requestID,
		"invitation_id", inv.ID.String(),
		"email_sent", sent,
	)

	httputil.WriteJSON(w, http.StatusOK, InviteResponse{
		Success:      true,
		InvitationID: inv.ID.String(),
		EmailSent:    sent,
	})
}

// HandleValidateToken handles POST /validate-token. Every invalid token gets
// the same generic answer.
func (h *Handler) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.DecodeAndPrepare[ValidateTokenRequest](w, r)
	if err != nil {
		h.auditor.Record(ctx, audit.EventInvalidInvitationAttempt, audit.EventContext{
			Payload: map[string]any{"reason": "malformed_request"},
		})
		h.fail(ctx, w, "validate_token", flagValid, err)
		return
	}

	if _, err := h.invitations.Validate(ctx, req.Token, req.Email); err != nil {
		h.fail(ctx, w, "validate_token", flagValid, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ValidateTokenResponse{Valid: true})
}

// HandleCreateAccount handles POST /create-account.
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.DecodeAndPrepare[CreateAccountRequest](w, r)
	if err != nil {
		h.auditor.Record(ctx, audit.EventAccountCreationFailed, audit.EventContext{
			Payload: map[string]any{"reason": "malformed_request"},
		})
		h.fail(ctx, w, "create_account", flagSuccess, err)
		return
	}

	result, err := h.accounts.Register(ctx, accountService.RegisterRequest{
		Token:     req.Token,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(ctx, w, "create_account", flagSuccess, err)
		return
	}
	h.metrics.IncAccountsCreated()
	h.logger.InfoContext(ctx, "account created",
		"request_id", requestID,
		"user_id", result.Account.ID.String(),
	)

	h.notifyAccountCreated(ctx, result)
	httputil.WriteJSON(w, http.StatusOK, CreateAccountResponse{
		Success: true,
		User: &UserResponse{
			ID:    result.Account.ID.String(),
			Email: result.Account.Email,
		},
	})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, endpoint, flag string, err error) {
	code := writeRejection(w, flag, err)
	h.metrics.IncRejection(endpoint, string(code))
	if envelopeStatus(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "admission request failed",
			"endpoint", endpoint,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (h *Handler) sendInvite(ctx context.Context, inv *invitationModels.InvitationToken) bool {
	to, err := notificationModels.To(inv.Email)
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid invitation recipient", "error", err)
		return false
	}
	inviter := inv.InviterEmail
	if inviter == "" {
		inviter = "The " + h.cfg.ProductName + " team"
	}
	return h.notifier.Send(ctx, to, render.Message{
		Kind: notificationModels.KindInviteSent,
		Data: map[string]any{
			"ProductName": h.cfg.ProductName,
			"InviterName": inviter,
			"AcceptURL":   h.acceptURL(inv),
			"ExpiresAt":   inv.ExpiresAt.UTC().Format(displayTimeLayout),
		},
	})
}

func (h *Handler) acceptURL(inv *invitationModels.InvitationToken) string {
	u, _ := url.Parse(h.cfg.AcceptBaseURL)
	q := u.Query()
	q.Set("token", inv.Token)
	q.Set("email", inv.Email)
	u.RawQuery = q.Encode()
	return u.String()
}

// notifyAccountCreated sends the welcome mail and, when the inviter is known,
// the acceptance notice. Delivery runs after the response; Wait drains it.
func (h *Handler) notifyAccountCreated(ctx context.Context, result *accountService.RegisterResult) {
	ctx = context.WithoutCancel(ctx)
	account, profile, inv := result.Account, result.Profile, result.Invitation

	acceptedAt := h.clock.Now()
	if inv.AcceptedAt != nil {
		acceptedAt = *inv.AcceptedAt
	}

	h.background.Go(func() {
		if to, err := notificationModels.To(account.Email); err == nil {
			h.notifier.Send(ctx, to, render.Message{
				Kind: notificationModels.KindAccountCreated,
				Data: map[string]any{
					"ProductName": h.cfg.ProductName,
					"FirstName":   profile.FirstName,
					"Email":       account.Email,
					"LoginURL":    h.cfg.LoginURL,
				},
			})
		}

		if inv.InviterEmail == "" {
			return
		}
		to, err := notificationModels.To(inv.InviterEmail)
		if err != nil {
			h.logger.WarnContext(ctx, "invalid inviter address", "invitation_id", inv.ID.String(), "error", err)
			return
		}
		h.notifier.Send(ctx, to, render.Message{
			Kind: notificationModels.KindInvitationAcceptedNotice,
			Data: map[string]any{
				"AgentName":  profile.FirstName + " " + profile.LastName,
				"Email":      account.Email,
				"AcceptedAt": acceptedAt.UTC().Format(displayTimeLayout),
			},
		})
	})
}
