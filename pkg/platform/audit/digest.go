package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

const digestContext = "agentgate 2026 audit event digest v1"

// Sealer computes keyed BLAKE3 digests over the canonical form of an event.
// A row whose digest no longer matches was modified after it was written.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the digest key from an operator secret.
func NewSealer(secret string) *Sealer {
	s := &Sealer{}
	blake3.DeriveKey(digestContext, []byte(secret), s.key[:])
	return s
}

// canonicalEvent fixes field order; encoding/json sorts payload map keys.
type canonicalEvent struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Category      string         `json:"category"`
	ActorID       string         `json:"actor_id"`
	SourceAddress string         `json:"source_address"`
	ClientAgent   string         `json:"client_agent"`
	RequestID     string         `json:"request_id"`
	Payload       map[string]any `json:"payload"`
	OccurredAt    string         `json:"occurred_at"`
}

// Seal returns the hex digest of event. The Digest field itself is excluded.
// OccurredAt is hashed at microsecond precision, the precision of timestamptz.
func (s *Sealer) Seal(event Event) (string, error) {
	body, err := json.Marshal(canonicalEvent{
		ID:            event.ID.String(),
		Type:          string(event.Type),
		Category:      string(event.Category),
		ActorID:       event.ActorID,
		SourceAddress: event.SourceAddress,
		ClientAgent:   event.ClientAgent,
		RequestID:     event.RequestID,
		Payload:       event.Payload,
		OccurredAt:    event.OccurredAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("marshal canonical event: %w", err)
	}

	hasher, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		return "", fmt.Errorf("create keyed hasher: %w", err)
	}
	if _, err := hasher.Write(body); err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify reports whether event still matches its recorded digest.
func (s *Sealer) Verify(event Event) bool {
	if event.Digest == "" {
		return false
	}
	digest, err := s.Seal(event)
	if err != nil {
		return false
	}
	return digest == event.Digest
}
