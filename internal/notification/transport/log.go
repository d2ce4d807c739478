package transport

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Log writes envelopes to the process log instead of sending them. It is
// the development transport.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, env Envelope) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := uuid.NewString()
	l.logger.InfoContext(ctx, "email delivered to log transport",
		"message_id", id,
		"kind", string(env.Kind),
		"to", env.To.Addresses(),
		"subject", env.Subject,
		"body", env.TextBody,
	)
	return Receipt{Provider: "log", MessageID: id, StatusCode: 202}, nil
}
