// Package dispatcher delivers rendered notifications with bounded retries
// and hands undeliverable messages to the recovery sweep.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agentgate/internal/notification/metrics"
	"agentgate/internal/notification/models"
	"agentgate/internal/notification/render"
	"agentgate/internal/notification/transport"
	"agentgate/pkg/platform/audit"
)

const (
	tracerName        = "agentgate/notification"
	saveFailedTimeout = 5 * time.Second
)

// FailedStore receives messages whose inline attempts were exhausted.
type FailedStore interface {
	SaveFailed(ctx context.Context, msg *models.NotificationMessage) error
}

// Config bounds delivery. Timeout caps the whole inline loop; AttemptTimeout
// caps each transport call.
type Config struct {
	From           models.Recipient
	MaxAttempts    int
	InlineAttempts int
	Timeout        time.Duration
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InlineAttempts <= 0 || c.InlineAttempts > c.MaxAttempts {
		c.InlineAttempts = c.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.AttemptTimeout <= 0 || c.AttemptTimeout > c.Timeout {
		c.AttemptTimeout = c.Timeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

type Dispatcher struct {
	transport transport.Transport
	renderer  *render.Renderer
	store     FailedStore
	auditor   audit.Recordable
	logger    *slog.Logger
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	cfg       Config
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

func New(t transport.Transport, renderer *render.Renderer, store FailedStore, auditor audit.Recordable, cfg Config, opts ...Option) (*Dispatcher, error) {
	switch {
	case t == nil:
		return nil, errors.New("transport is required")
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case store == nil:
		return nil, errors.New("failed message store is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	case cfg.From.Email == "":
		return nil, errors.New("from address is required")
	}
	d := &Dispatcher{
		transport: t,
		renderer:  renderer,
		store:     store,
		auditor:   auditor,
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MaxAttempts is the lifetime attempt ceiling shared with the sweep.
func (d *Dispatcher) MaxAttempts() int {
	return d.cfg.MaxAttempts
}

// Send renders msg and delivers it to recipients. It never returns an error:
// false means the message was recorded as failed (or could not be built) and
// the failure was audited.
func (d *Dispatcher) Send(ctx context.Context, recipients models.Recipients, msg render.Message) bool {
	started := d.clock.Now()
	ctx, span := d.tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.String("notification.kind", string(msg.Kind)),
	))
	defer span.End()

	to, err := recipients.Normalize()
	if err != nil {
		d.reject(ctx, span, msg.Kind, "invalid_recipients", err)
		return false
	}
	rendered, err := d.renderer.Render(msg)
	if err != nil {
		d.reject(ctx, span, msg.Kind, "render_failed", err)
		return false
	}

	message := &models.NotificationMessage{
		ID:           uuid.New(),
		Recipients:   to,
		Subject:      rendered.Subject,
		TextBody:     rendered.TextBody,
		HTMLBody:     rendered.HTMLBody,
		TemplateKind: msg.Kind,
		CreatedAt:    started.UTC(),
	}

	// Delivery outlives the request that triggered it, but never the timeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	lastErr := d.retry(sendCtx, message)
	span.SetAttributes(attribute.Int("notification.attempts", message.AttemptCount))
	d.metrics.ObserveSend(string(msg.Kind), lastErr == nil, d.clock.Since(started).Seconds())

	if lastErr == nil {
		d.logger.InfoContext(ctx, "notification delivered",
			"message_id", message.ID.String(),
			"kind", string(msg.Kind),
			"attempts", message.AttemptCount,
		)
		return true
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "delivery failed")
	d.recordFailure(ctx, message, lastErr)
	return false
}

// retry runs up to InlineAttempts attempts separated by jittered exponential
// backoff. It stops early when sendCtx expires; the expired attempt counts.
func (d *Dispatcher) retry(sendCtx context.Context, message *models.NotificationMessage) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxInterval = d.cfg.MaxBackoff
	policy.RandomizationFactor = 0.5
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	var lastErr error
	operation := func() error {
		message.AttemptCount++
		message.LastAttemptAt = d.clock.Now().UTC()
		lastErr = d.Attempt(sendCtx, message)
		if lastErr != nil && sendCtx.Err() != nil {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		d.logger.WarnContext(sendCtx, "notification attempt failed",
			"message_id", message.ID.String(),
			"attempt", message.AttemptCount,
			"retry_in", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.InlineAttempts-1)), sendCtx),
		notify,
	)
	if err == nil {
		return nil
	}
	if lastErr == nil {
		// The context expired during a backoff wait, before the next attempt.
		return err
	}
	return lastErr
}

// Attempt makes one transport call for a stored or freshly rendered message.
func (d *Dispatcher) Attempt(ctx context.Context, message *models.NotificationMessage) error {
	ctx, span := d.tracer.Start(ctx, "notification.attempt", trace.WithAttributes(
		attribute.String("notification.id", message.ID.String()),
		attribute.String("notification.kind", string(message.TemplateKind)),
		attribute.Int("notification.attempt", message.AttemptCount),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	receipt, err := d.transport.Send(attemptCtx, transport.Envelope{
		From:     d.cfg.From,
		To:       message.Recipients,
		Subject:  message.Subject,
		TextBody: message.TextBody,
		HTMLBody: message.HTMLBody,
		Kind:     message.TemplateKind,
	})
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}
	d.metrics.ObserveAttempt(string(message.TemplateKind), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return fmt.Errorf("attempt %d: %w", message.AttemptCount, err)
	}
	span.SetAttributes(attribute.String("notification.provider_id", receipt.MessageID))
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, message *models.NotificationMessage, lastErr error) {
	message.Status = models.StatusFailed
	message.LastError = lastErr.Error()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveFailedTimeout)
	defer cancel()

	persisted := true
	if err := d.store.SaveFailed(saveCtx, message); err != nil {
		persisted = false
		d.logger.ErrorContext(ctx, "failed to persist undelivered notification",
			"message_id", message.ID.String(),
			"kind", string(message.TemplateKind),
			"recipients", message.Recipients.Addresses(),
			"error", err,
		)
	} else {
		d.metrics.IncFailedRecords()
	}

	d.logger.ErrorContext(ctx, "notification delivery failed",
		"message_id", message.ID.String(),
		"kind", string(message.TemplateKind),
		"attempts", message.AttemptCount,
		"error", lastErr,
	)
	d.auditor.Record(ctx, audit.EventNotificationFailed, audit.EventContext{
		Payload: map[string]any{
			"message_id":    message.ID.String(),
			"template_kind": string(message.TemplateKind),
			"recipients":    message.Recipients.Addresses(),
			"attempt_count": message.AttemptCount,
			"last_error":    message.LastError,
			"persisted":     persisted,
		},
	})
}

func (d *Dispatcher) reject(ctx context.Context, span trace.Span, kind models.TemplateKind, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	d.metrics.ObserveSend(string(kind), false, 0)
	d.logger.ErrorContext(ctx, "notification not sent",
		"kind", string(kind),
		"reason", reason,
		"error", err,
	)
	d.auditor.Record(ctx, audit.EventNotificationFailed, audit.EventContext{
		Payload: map[string]any{
			"template_kind": string(kind),
			"reason":        reason,
			"error":         err.Error(),
			"persisted":     false,
		},
	})
}
