// Package service manages the invitation token lifecycle: issue, validate
// and single-use accept. Every call leaves one audit event behind.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"agentgate/internal/invitation/models"
	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/email"
	"agentgate/pkg/platform/audit"
	"agentgate/pkg/platform/sentinel"
)

// Store persists invitations. Implementations evaluate all predicates of
// FindRedeemable and Accept in one atomic step.
type Store interface {
	CreatePending(ctx context.Context, inv *models.InvitationToken, now time.Time) error
	FindRedeemable(ctx context.Context, token, email string, now time.Time) (*models.InvitationToken, error)
	Accept(ctx context.Context, token, email string, userID uuid.UUID, now time.Time) (*models.InvitationToken, error)
	Reopen(ctx context.Context, id uuid.UUID) error
	FindByToken(ctx context.Context, token string) (*models.InvitationToken, error)
}

// AccountLookup answers whether an address already belongs to an account.
type AccountLookup interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

const DefaultTTL = 7 * 24 * time.Hour

type Service struct {
	store      Store
	accounts   AccountLookup
	auditor    audit.Recordable
	logger     *slog.Logger
	clock      clockwork.Clock
	defaultTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func New(store Store, accounts AccountLookup, auditor audit.Recordable, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("invitation store is required")
	}
	if accounts == nil {
		return nil, errors.New("account lookup is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	s := &Service{
		store:      store,
		accounts:   accounts,
		auditor:    auditor,
		logger:     slog.Default(),
		clock:      clockwork.NewRealClock(),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueRequest names the invitee and the admin issuing the invitation.
type IssueRequest struct {
	Email        string
	TTL          time.Duration
	CreatedBy    string
	InviterEmail string
}

// Issue creates a pending invitation. It fails with CodeAlreadyRegistered if
// the address has an account and CodeConflict if a live invitation exists.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.InvitationToken, error) {
	addr := email.Normalize(req.Email)
	now := s.clock.Now().UTC()
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	reject := func(reason string, err error) error {
		s.auditor.Record(ctx, audit.EventInvitationIssueRejected, audit.EventContext{
			ActorID: req.CreatedBy,
			Payload: map[string]any{"email": addr, "reason": reason},
		})
		return err
	}

	if !email.IsValid(addr) {
		return nil, reject("invalid_email", dErrors.New(dErrors.CodeValidation, "a valid email is required"))
	}

	exists, err := s.accounts.ExistsByEmail(ctx, addr)
	if err != nil {
		s.logger.ErrorContext(ctx, "account lookup failed", "error", err)
		return nil, reject("store_error", storeError(err, "failed to check existing accounts"))
	}
	if exists {
		return nil, reject("already_registered", dErrors.New(dErrors.CodeAlreadyRegistered, "an account already exists for this email"))
	}

	inv, err := models.NewInvitation(addr, req.CreatedBy, email.Normalize(req.InviterEmail), ttl, now)
	if err != nil {
		return nil, reject("internal", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invitation"))
	}

	if err := s.store.CreatePending(ctx, inv, now); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, reject("pending_invitation_exists", dErrors.New(dErrors.CodeConflict, "a pending invitation already exists for this email"))
		}
		s.logger.ErrorContext(ctx, "failed to store invitation", "error", err)
		return nil, reject("store_error", storeError(err, "failed to store invitation"))
	}

	s.auditor.Record(ctx, audit.EventInvitationIssued, audit.EventContext{
		ActorID: req.CreatedBy,
		Payload: map[string]any{
			"invitation_id": inv.ID.String(),
			"email":         addr,
			"expires_at":    inv.ExpiresAt,
		},
	})
	return inv, nil
}

// Validate reports whether (token, email) names a pending, unexpired
// invitation without consuming it.
func (s *Service) Validate(ctx context.Context, token, address string) (*models.InvitationToken, error) {
	addr := email.Normalize(address)
	now := s.clock.Now().UTC()

	if token == "" || addr == "" {
		return nil, s.rejectToken(ctx, audit.EventInvalidInvitationAttempt, token, addr, now, sentinel.ErrNotFound)
	}

	inv, err := s.store.FindRedeemable(ctx, token, addr, now)
	if err != nil {
		return nil, s.rejectToken(ctx, audit.EventInvalidInvitationAttempt, token, addr, now, err)
	}

	s.auditor.Record(ctx, audit.EventInvitationValidated, audit.EventContext{
		Payload: map[string]any{"invitation_id": inv.ID.String(), "email": addr},
	})
	return inv, nil
}

// Accept consumes the invitation for userID. Of concurrent callers presenting
// the same token exactly one succeeds.
func (s *Service) Accept(ctx context.Context, token, address string, userID uuid.UUID) (*models.InvitationToken, error) {
	addr := email.Normalize(address)
	now := s.clock.Now().UTC()

	if token == "" || addr == "" {
		return nil, s.rejectToken(ctx, audit.EventInvitationAcceptFailed, token, addr, now, sentinel.ErrNotFound)
	}

	inv, err := s.store.Accept(ctx, token, addr, userID, now)
	if err != nil {
		return nil, s.rejectToken(ctx, audit.EventInvitationAcceptFailed, token, addr, now, err)
	}

	s.auditor.Record(ctx, audit.EventInvitationAccepted, audit.EventContext{
		ActorID: userID.String(),
		Payload: map[string]any{"invitation_id": inv.ID.String(), "email": addr},
	})
	return inv, nil
}

// Reopen reverts an acceptance whose account could not be completed.
func (s *Service) Reopen(ctx context.Context, inv *models.InvitationToken) error {
	if err := s.store.Reopen(ctx, inv.ID); err != nil {
		return storeError(err, "failed to reopen invitation")
	}
	return nil
}

// rejectToken audits a refused token and returns the generic error. Only
// store faults are surfaced differently.
func (s *Service) rejectToken(ctx context.Context, eventType audit.EventType, token, addr string, now time.Time, cause error) error {
	payload := map[string]any{"email": addr, "reason": s.diagnose(ctx, token, addr, now, cause)}
	s.auditor.Record(ctx, eventType, audit.EventContext{Payload: payload})

	if cause != nil && !errors.Is(cause, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "invitation store failed", "error", cause)
		return storeError(cause, "failed to check invitation")
	}
	return dErrors.New(dErrors.CodeInvalidOrExpired, models.InvalidInvitationMessage)
}

func (s *Service) diagnose(ctx context.Context, token, addr string, now time.Time, cause error) string {
	switch {
	case cause != nil && !errors.Is(cause, sentinel.ErrNotFound):
		return "store_error"
	case token == "":
		return "missing_token"
	case addr == "":
		return "missing_email"
	}

	inv, err := s.store.FindByToken(ctx, token)
	if err != nil {
		return "unknown_token"
	}
	switch reason := inv.RejectionReason(addr, now); {
	case errors.Is(reason, sentinel.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(reason, sentinel.ErrExpired):
		return "expired"
	case errors.Is(reason, sentinel.ErrConflict):
		return "email_mismatch"
	default:
		return "lost_race"
	}
}

func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
