// Package sweep re-attempts notifications whose inline delivery failed.
// One invocation claims a bounded batch, retries it with bounded
// concurrency and stops at its timeout.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"agentgate/internal/notification/metrics"
	"agentgate/internal/notification/models"
	"agentgate/internal/notification/store"
	"agentgate/pkg/platform/audit"
)

const finalizeTimeout = 5 * time.Second

type Store interface {
	ClaimBatch(ctx context.Context, p store.ClaimParams) ([]*models.NotificationMessage, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, claimedAt, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, claimedAt time.Time, lastError string) error
}

// Attempter makes one delivery attempt; the dispatcher implements it.
type Attempter interface {
	Attempt(ctx context.Context, msg *models.NotificationMessage) error
	MaxAttempts() int
}

type Config struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	Lease       time.Duration
}

// Result summarizes one invocation.
type Result struct {
	Claimed   int
	Delivered int
	Failed    int
	// Exhausted counts failures that reached the attempt ceiling and will
	// not be selected again.
	Exhausted int
}

type Sweeper struct {
	store     Store
	attempter Attempter
	auditor   audit.Recordable
	logger    *slog.Logger
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	cfg       Config
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func New(st Store, attempter Attempter, auditor audit.Recordable, cfg Config, opts ...Option) (*Sweeper, error) {
	switch {
	case st == nil:
		return nil, errors.New("notification store is required")
	case attempter == nil:
		return nil, errors.New("attempter is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Lease <= cfg.Timeout {
		cfg.Lease = cfg.Timeout + time.Minute
	}
	s := &Sweeper{
		store:     st,
		attempter: attempter,
		auditor:   auditor,
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
		tracer:    otel.Tracer("agentgate/notification"),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep runs one invocation. The returned error covers the claim only;
// per-message failures are counted in Result.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	started := s.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "notification.sweep")
	defer span.End()

	maxAttempts := s.attempter.MaxAttempts()
	claimed, err := s.store.ClaimBatch(ctx, store.ClaimParams{
		Now:         started.UTC(),
		MaxAttempts: maxAttempts,
		Lease:       s.cfg.Lease,
		Limit:       s.cfg.BatchSize,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		s.metrics.ObserveSweep(err, 0, 0, 0, s.clock.Since(started).Seconds())
		s.logger.ErrorContext(ctx, "notification sweep claim failed", "error", err)
		return Result{}, err
	}

	var delivered, failed, exhausted atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, msg := range claimed {
		if ctx.Err() != nil {
			s.finalizeFailed(ctx, msg, "sweep timed out before the attempt", maxAttempts, &failed, &exhausted)
			continue
		}
		g.Go(func() error {
			if err := s.attempter.Attempt(ctx, msg); err != nil {
				s.finalizeFailed(ctx, msg, err.Error(), maxAttempts, &failed, &exhausted)
				return nil
			}
			s.finalizeDelivered(ctx, msg, &delivered, &failed)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		Claimed:   len(claimed),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
		Exhausted: int(exhausted.Load()),
	}
	span.SetAttributes(
		attribute.Int("sweep.claimed", result.Claimed),
		attribute.Int("sweep.delivered", result.Delivered),
		attribute.Int("sweep.failed", result.Failed),
	)
	s.metrics.ObserveSweep(nil, result.Claimed, result.Delivered, result.Failed, s.clock.Since(started).Seconds())
	s.logger.InfoContext(ctx, "notification sweep finished",
		"claimed", result.Claimed,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"exhausted", result.Exhausted,
		"duration", s.clock.Since(started),
	)
	return result, nil
}

func (s *Sweeper) finalizeDelivered(ctx context.Context, msg *models.NotificationMessage, delivered, failed *atomic.Int64) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.store.MarkDelivered(fctx, msg.ID, msg.LastAttemptAt, s.clock.Now().UTC()); err != nil {
		// The message went out; only the bookkeeping failed. The lease will
		// return it to failed and it may be delivered twice.
		failed.Add(1)
		s.logger.ErrorContext(ctx, "failed to mark notification delivered",
			"message_id", msg.ID.String(),
			"error", err,
		)
		return
	}
	delivered.Add(1)
	s.auditor.Record(ctx, audit.EventNotificationRecovered, audit.EventContext{
		Payload: map[string]any{
			"message_id":    msg.ID.String(),
			"template_kind": string(msg.TemplateKind),
			"attempt_count": msg.AttemptCount,
		},
	})
}

func (s *Sweeper) finalizeFailed(ctx context.Context, msg *models.NotificationMessage, lastError string, maxAttempts int, failed, exhausted *atomic.Int64) {
	failed.Add(1)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.store.MarkFailed(fctx, msg.ID, msg.LastAttemptAt, lastError); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark notification failed",
			"message_id", msg.ID.String(),
			"error", err,
		)
		return
	}
	if msg.AttemptCount >= maxAttempts {
		exhausted.Add(1)
		s.logger.WarnContext(ctx, "notification permanently failed",
			"message_id", msg.ID.String(),
			"kind", string(msg.TemplateKind),
			"attempts", msg.AttemptCount,
			"error", lastError,
		)
	}
}
