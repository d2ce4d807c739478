// Package service registers accounts from accepted invitations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"agentgate/internal/account/models"
	invitationModels "agentgate/internal/invitation/models"
	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/email"
	"agentgate/pkg/platform/audit"
	"agentgate/pkg/platform/sentinel"
	"agentgate/pkg/platform/tx"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *models.Profile) error
}

// Invitations is the part of the token lifecycle registration depends on.
type Invitations interface {
	Accept(ctx context.Context, token, email string, userID uuid.UUID) (*invitationModels.InvitationToken, error)
	Reopen(ctx context.Context, inv *invitationModels.InvitationToken) error
}

type Service struct {
	accounts          AccountStore
	profiles          ProfileStore
	invitations       Invitations
	tx                tx.Runner
	auditor           audit.Recordable
	logger            *slog.Logger
	clock             clockwork.Clock
	bcryptCost        int
	minPasswordLength int
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

// WithTxRunner sets the unit-of-work boundary for registration. Without it
// the steps run unwrapped and rely on compensation alone.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		if runner != nil {
			s.tx = runner
		}
	}
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func WithMinPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPasswordLength = n
		}
	}
}

func New(accounts AccountStore, profiles ProfileStore, invitations Invitations, auditor audit.Recordable, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if invitations == nil {
		return nil, errors.New("invitations are required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	s := &Service{
		accounts:          accounts,
		profiles:          profiles,
		invitations:       invitations,
		tx:                tx.NoopRunner{},
		auditor:           auditor,
		logger:            slog.Default(),
		clock:             clockwork.NewRealClock(),
		bcryptCost:        bcrypt.DefaultCost,
		minPasswordLength: models.DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type RegisterRequest struct {
	Token     string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type RegisterResult struct {
	Account    *models.Account
	Profile    *models.Profile
	Invitation *invitationModels.InvitationToken
}

// ExistsByEmail lets the invitation lifecycle refuse addresses that already
// have an account.
func (s *Service) ExistsByEmail(ctx context.Context, address string) (bool, error) {
	return s.accounts.ExistsByEmail(ctx, email.Normalize(address))
}

// Register accepts the invitation and creates the account and profile as one
// unit. When the profile cannot be created and the runner has no rollback, the
// account is deleted and the invitation reopened so no half-created user
// remains.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	addr := email.Normalize(req.Email)
	invalid := func(reason string, err error) error {
		s.auditor.Record(ctx, audit.EventAccountCreationFailed, audit.EventContext{
			Payload: map[string]any{"email": addr, "reason": reason},
		})
		return err
	}
	if !email.IsValid(addr) {
		return nil, invalid("invalid_email", dErrors.New(dErrors.CodeValidation, "a valid email is required"))
	}
	if err := models.ValidatePassword(req.Password, s.minPasswordLength); err != nil {
		return nil, invalid("weak_password", dErrors.Wrap(err, dErrors.CodeValidation, err.Error()))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	firstName, lastName := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if firstName == "" || lastName == "" {
		derivedFirst, derivedLast := email.DeriveNameFromEmail(addr)
		if firstName == "" {
			firstName = derivedFirst
		}
		if lastName == "" {
			lastName = derivedLast
		}
	}

	now := s.clock.Now().UTC()
	account := &models.Account{
		ID:           uuid.New(),
		Email:        addr,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	result := &RegisterResult{Account: account}

	var profileErr error
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invitations.Accept(ctx, req.Token, addr, account.ID)
		if err != nil {
			return err
		}
		result.Invitation = inv

		if err := s.accounts.CreateAccount(ctx, account); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeAlreadyRegistered, "an account already exists for this email")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
		}

		profile := &models.Profile{
			UserID:       account.ID,
			Email:        addr,
			FirstName:    firstName,
			LastName:     lastName,
			Role:         models.RoleSalesAgent,
			InvitationID: inv.ID,
			CreatedAt:    now,
		}
		if err := s.profiles.CreateProfile(ctx, profile); err != nil {
			profileErr = err
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create profile")
		}
		result.Profile = profile
		return nil
	})
	if err != nil {
		if profileErr != nil {
			s.undo(ctx, account, result.Invitation, profileErr)
		}
		s.auditor.Record(ctx, audit.EventAccountCreationFailed, audit.EventContext{
			Payload: map[string]any{"email": addr, "reason": string(dErrors.CodeOf(err))},
		})
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			s.logger.ErrorContext(ctx, "account registration failed", "error", err)
		}
		return nil, err
	}

	s.auditor.Record(ctx, audit.EventAccountCreated, audit.EventContext{
		ActorID: account.ID.String(),
		Payload: map[string]any{
			"user_id":       account.ID.String(),
			"email":         addr,
			"invitation_id": result.Invitation.ID.String(),
		},
	})
	return result, nil
}

// undo reverses a registration whose profile step failed. Under a rolling
// back runner the transaction has already discarded the account and the
// acceptance, and the aborted transaction would reject further statements.
func (s *Service) undo(ctx context.Context, account *models.Account, inv *invitationModels.InvitationToken, cause error) {
	mechanism := "transaction"
	if !tx.RollsBack(s.tx) {
		mechanism = "compensation"
		if err := s.accounts.DeleteAccount(ctx, account.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete account during rollback",
				"user_id", account.ID.String(),
				"error", err,
			)
		}
		if err := s.invitations.Reopen(ctx, inv); err != nil {
			s.logger.ErrorContext(ctx, "failed to reopen invitation during rollback",
				"invitation_id", inv.ID.String(),
				"error", err,
			)
		}
	}
	s.auditor.Record(ctx, audit.EventAccountRolledBack, audit.EventContext{
		Payload: map[string]any{
			"user_id":       account.ID.String(),
			"email":         account.Email,
			"invitation_id": inv.ID.String(),
			"undone_by":     mechanism,
			"error":         cause.Error(),
		},
	})
}
