package models

import "strings"

// Well-known policy names; they prefix every key built for the policy.
const (
	PolicyInvite        = "invite"
	PolicyValidateToken = "validate_token"
	PolicyCreateAccount = "create_user"
)

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a user-controlled identifier containing ':' cannot address another
// policy's bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Key builds "<policy>:<identifier>". IPv6 colons are escaped.
func Key(policy, identifier string) string {
	if identifier == "" {
		identifier = "unknown"
	}
	return policy + ":" + SanitizeKeySegment(identifier)
}

// PolicyOf returns the policy prefix of a key, or "custom".
func PolicyOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "custom"
}
