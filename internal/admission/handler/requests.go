package handler

import (
	"strings"

	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/email"
)

const (
	maxTokenLength    = 256
	maxEmailLength    = 254
	maxNameLength     = 100
	maxPasswordLength = 256
)

// InviteRequest is the body of POST /invite.
type InviteRequest struct {
	Email string `json:"email"`
}

func (r *InviteRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
}

func (r *InviteRequest) Validate() error {
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	return nil
}

// ValidateTokenRequest is the body of POST /validate-token. Blank fields are
// not a validation error: they get the same answer as an unknown token.
type ValidateTokenRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func (r *ValidateTokenRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	r.Email = email.Normalize(r.Email)
}

func (r *ValidateTokenRequest) Validate() error {
	if len(r.Token) > maxTokenLength || len(r.Email) > maxEmailLength {
		return dErrors.New(dErrors.CodeValidation, "token or email is too long")
	}
	return nil
}

// CreateAccountRequest is the body of POST /create-account. The password is
// never trimmed.
type CreateAccountRequest struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (r *CreateAccountRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	r.Email = email.Normalize(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

func (r *CreateAccountRequest) Validate() error {
	if len(r.Token) > maxTokenLength || len(r.Email) > maxEmailLength {
		return dErrors.New(dErrors.CodeValidation, "token or email is too long")
	}
	if len(r.FirstName) > maxNameLength || len(r.LastName) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "names must be at most 100 characters")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password is too long")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}
