package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"agentgate/pkg/email"
)

// Recipient is one normalized mailbox.
type Recipient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Recipients is an ordered, deduplicated list of mailboxes. On the wire it
// accepts a bare address, "Name <addr>", an {name,email} object, or a list
// mixing any of those.
type Recipients []Recipient

var ErrNoRecipients = errors.New("at least one valid recipient is required")

// ParseRecipient accepts "addr" or "Name <addr>".
func ParseRecipient(raw string) (Recipient, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Recipient{}, fmt.Errorf("empty recipient")
	}
	if !strings.ContainsRune(raw, '<') {
		return newRecipient("", raw)
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return Recipient{}, fmt.Errorf("parse recipient %q: %w", raw, err)
	}
	return newRecipient(parsed.Name, parsed.Address)
}

func newRecipient(name, address string) (Recipient, error) {
	addr := email.Normalize(address)
	if !email.IsValid(addr) {
		return Recipient{}, fmt.Errorf("invalid recipient address %q", address)
	}
	return Recipient{Name: strings.TrimSpace(name), Email: addr}, nil
}

// To builds recipients from addresses in either accepted string form.
func To(addresses ...string) (Recipients, error) {
	out := make(Recipients, 0, len(addresses))
	for _, a := range addresses {
		r, err := ParseRecipient(a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out.Normalize()
}

// Normalize trims and lower-cases every address and drops duplicates,
// keeping the first occurrence and its display name.
func (rs Recipients) Normalize() (Recipients, error) {
	seen := make(map[string]struct{}, len(rs))
	out := make(Recipients, 0, len(rs))
	for _, r := range rs {
		n, err := newRecipient(r.Name, r.Email)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n.Email]; dup {
			continue
		}
		seen[n.Email] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}

// Addresses returns the bare addresses in order.
func (rs Recipients) Addresses() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}

func (rs *Recipients) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		list = []json.RawMessage{data}
	}

	parsed := make(Recipients, 0, len(list))
	for _, item := range list {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			r, err := ParseRecipient(s)
			if err != nil {
				return err
			}
			parsed = append(parsed, r)
			continue
		}
		var obj struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("recipient must be a string or {name,email} object: %w", err)
		}
		r, err := newRecipient(obj.Name, obj.Email)
		if err != nil {
			return err
		}
		parsed = append(parsed, r)
	}

	normalized, err := parsed.Normalize()
	if err != nil {
		return err
	}
	*rs = normalized
	return nil
}
