package models

import (
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	RoleSalesAgent = "sales_agent"

	DefaultMinPasswordLength = 12
	maxPasswordLength        = 72 // bcrypt ignores bytes past 72
)

// Account is the credential record created when an invitation is accepted.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile holds the display data of an account.
type Profile struct {
	UserID       uuid.UUID
	Email        string
	FirstName    string
	LastName     string
	Role         string
	InvitationID uuid.UUID
	CreatedAt    time.Time
}

var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
	ErrPasswordWeak     = errors.New("password must contain upper and lower case letters, a digit and a symbol")
)

// ValidatePassword checks length and character classes. It does not judge
// dictionary strength.
func ValidatePassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if len([]rune(password)) < minLength {
		return fmt.Errorf("%w: minimum is %d characters", ErrPasswordTooShort, minLength)
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return ErrPasswordWeak
	}
	return nil
}
