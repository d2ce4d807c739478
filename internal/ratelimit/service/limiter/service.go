// Package limiter implements fixed-window admission control on top of a
// shared window store.
package limiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agentgate/internal/ratelimit/metrics"
	"agentgate/internal/ratelimit/models"
	"agentgate/internal/ratelimit/ports"
	"agentgate/pkg/platform/audit"

	"github.com/jonboulle/clockwork"
)

// Limiter decides admission per key. It holds no per-key state of its own;
// every decision is one atomic store call.
type Limiter struct {
	store   ports.WindowStore
	auditor audit.Recordable
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithAuditor(auditor audit.Recordable) Option {
	return func(l *Limiter) {
		l.auditor = auditor
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func New(store ports.WindowStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckAndConsume admits one attempt for key if fewer than maxAttempts were
// admitted in the current window. Store failures deny.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, window time.Duration, maxAttempts int) bool {
	return l.consume(ctx, key, window, maxAttempts, false).Allowed
}

// Check applies policy to identifier and returns the full decision.
func (l *Limiter) Check(ctx context.Context, policy models.Policy, identifier string) *models.Decision {
	return l.consume(ctx, models.Key(policy.Name, identifier), policy.Window, policy.MaxAttempts, policy.FailOpen)
}

func (l *Limiter) consume(ctx context.Context, key string, window time.Duration, maxAttempts int, failOpen bool) *models.Decision {
	started := l.clock.Now()
	policy := models.PolicyOf(key)

	decision := &models.Decision{Key: key, Limit: maxAttempts}
	if window <= 0 || maxAttempts <= 0 {
		l.logger.WarnContext(ctx, "rate limit policy has no budget", "key", key, "window", window, "max_attempts", maxAttempts)
		return decision
	}

	windowStart := models.WindowStart(started, window)
	decision.ResetAt = windowStart.Add(window)

	count, allowed, err := l.store.Increment(ctx, key, windowStart, window, maxAttempts)
	if err != nil {
		return l.degrade(ctx, decision, started, failOpen, err)
	}

	decision.Allowed = allowed
	decision.Remaining = max(0, maxAttempts-count)
	l.metrics.ObserveDecision(policy, allowed, l.clock.Since(started).Seconds())

	if !allowed {
		decision.RetryAfter = decision.ResetAt.Sub(started)
		l.logger.WarnContext(ctx, "rate limit exceeded",
			"key", key,
			"limit", maxAttempts,
			"window", window,
			"retry_after", decision.RetryAfter,
		)
		l.record(ctx, audit.EventRateLimitExceeded, map[string]any{
			"key":            key,
			"policy":         policy,
			"limit":          maxAttempts,
			"window_seconds": int(window / time.Second),
			"reset_at":       decision.ResetAt,
		})
	}
	return decision
}

func (l *Limiter) degrade(ctx context.Context, decision *models.Decision, started time.Time, failOpen bool, err error) *models.Decision {
	decision.Degraded = true
	decision.Allowed = failOpen
	if !failOpen {
		decision.RetryAfter = decision.ResetAt.Sub(started)
	}

	l.metrics.IncStoreFailure(models.PolicyOf(decision.Key), failOpen)
	l.logger.ErrorContext(ctx, "rate limit store unavailable",
		"key", decision.Key,
		"fail_open", failOpen,
		"error", err,
	)
	l.record(ctx, audit.EventRateLimitStoreUnavailable, map[string]any{
		"key":       decision.Key,
		"fail_open": failOpen,
		"error":     err.Error(),
	})
	return decision
}

// Purge removes elapsed records when the store supports it.
func (l *Limiter) Purge(ctx context.Context) (int64, error) {
	purger, ok := l.store.(ports.Purger)
	if !ok {
		return 0, nil
	}
	n, err := purger.Purge(ctx, l.clock.Now())
	if err != nil {
		return 0, err
	}
	l.metrics.AddPurged(n)
	return n, nil
}

func (l *Limiter) record(ctx context.Context, eventType audit.EventType, payload map[string]any) {
	if l.auditor == nil {
		return
	}
	l.auditor.Record(ctx, eventType, audit.EventContext{Payload: payload})
}
