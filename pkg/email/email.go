// Package email holds address helpers shared by invitations, accounts and
// notification recipients.
package email

import (
	"net/mail"
	"strings"
	"unicode"
)

const maxAddressLength = 254

// Normalize trims the address and lower-cases it. Invitation lookups and
// account uniqueness compare normalized addresses only.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid reports whether address is a bare RFC 5322 addr-spec with a dotted domain.
func IsValid(address string) bool {
	if address == "" || len(address) > maxAddressLength {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || parsed.Name != "" {
		return false
	}
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return false
	}
	domain := address[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// DeriveNameFromEmail splits the local part on common separators and returns
// a capitalized first and last name, falling back to "User".
func DeriveNameFromEmail(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
