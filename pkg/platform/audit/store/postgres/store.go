package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "agentgate/pkg/platform/audit"
)

// Store appends audit events to the audit_events table. It uses its own
// database/sql handle so audit rows commit independently of business
// transactions and survive their rollback.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one event. Re-delivery of the same event id is ignored.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, category, actor_id, source_address,
			client_agent, request_id, payload, occurred_at, digest
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		string(event.Category),
		nullString(event.ActorID),
		event.SourceAddress,
		event.ClientAgent,
		event.RequestID,
		payload,
		event.OccurredAt,
		event.Digest,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
