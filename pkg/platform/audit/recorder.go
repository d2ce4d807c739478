package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agentgate/pkg/requestcontext"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mssola/useragent"
)

const defaultWriteTimeout = 3 * time.Second

// Recorder is the audit logger. Record never fails from the caller's point of
// view: persistence errors are reported on the process log instead.
type Recorder struct {
	store        Store
	mirrors      []Mirror
	logger       *slog.Logger
	clock        clockwork.Clock
	sealer       *Sealer
	metrics      *Metrics
	queue        chan<- Event
	writeTimeout time.Duration
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithSealer attaches a digest to every event before it is persisted.
func WithSealer(sealer *Sealer) Option {
	return func(r *Recorder) {
		r.sealer = sealer
	}
}

// WithMirror adds a secondary sink that receives every persisted event.
func WithMirror(mirror Mirror) Option {
	return func(r *Recorder) {
		if mirror != nil {
			r.mirrors = append(r.mirrors, mirror)
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = metrics
	}
}

// WithQueue switches the recorder to buffered mode. Events are handed to the
// queue and persisted by a worker; when the queue is full the event is
// persisted inline instead of being dropped.
func WithQueue(queue chan<- Event) Option {
	return func(r *Recorder) {
		r.queue = queue
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// New creates a Recorder writing to store.
func New(store Store, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{
		store:        store,
		logger:       slog.Default(),
		clock:        clockwork.NewRealClock(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record captures an event at the moment of the triggering action and
// persists it. It never returns an error and never blocks on a full queue.
func (r *Recorder) Record(ctx context.Context, eventType EventType, ec EventContext) {
	event := r.build(ctx, eventType, ec)

	r.logger.InfoContext(ctx, string(eventType),
		"log_type", "audit",
		"event_id", event.ID.String(),
		"category", string(event.Category),
		"actor_id", event.ActorID,
		"source_address", event.SourceAddress,
		"request_id", event.RequestID,
	)

	if r.queue != nil {
		select {
		case r.queue <- event:
			return
		default:
			r.metrics.IncQueueOverflow()
			r.logger.WarnContext(ctx, "audit queue full, persisting inline",
				"event_id", event.ID.String(),
			)
		}
	}

	r.Persist(context.WithoutCancel(ctx), event)
}

// Persist writes event to the store and mirrors. Failures go to the process
// log with the full event so nothing is lost silently.
func (r *Recorder) Persist(ctx context.Context, event Event) {
	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, event); err != nil {
		r.metrics.IncPersistFailure(event.Type)
		r.logger.ErrorContext(ctx, "failed to persist audit event",
			"error", err,
			"log_type", "audit_fallback",
			"event_id", event.ID.String(),
			"event_type", string(event.Type),
			"category", string(event.Category),
			"actor_id", event.ActorID,
			"source_address", event.SourceAddress,
			"client_agent", event.ClientAgent,
			"request_id", event.RequestID,
			"occurred_at", event.OccurredAt,
			"payload", event.Payload,
			"digest", event.Digest,
		)
	} else {
		r.metrics.IncPersisted(event.Type)
	}

	for _, mirror := range r.mirrors {
		if err := mirror.Publish(writeCtx, event); err != nil {
			r.logger.WarnContext(ctx, "failed to mirror audit event",
				"error", err,
				"event_id", event.ID.String(),
				"event_type", string(event.Type),
			)
		}
	}
}

func (r *Recorder) build(ctx context.Context, eventType EventType, ec EventContext) Event {
	event := Event{
		ID:            uuid.New(),
		Type:          eventType,
		Category:      eventType.Category(),
		ActorID:       ec.ActorID,
		SourceAddress: ec.SourceAddress,
		ClientAgent:   ec.ClientAgent,
		RequestID:     requestcontext.RequestID(ctx),
		OccurredAt:    r.clock.Now().UTC().Truncate(time.Microsecond),
		Payload:       make(map[string]any, len(ec.Payload)+3),
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.ActorID(ctx)
	}
	if event.SourceAddress == "" {
		event.SourceAddress = requestcontext.ClientIP(ctx)
	}
	if event.ClientAgent == "" {
		event.ClientAgent = requestcontext.UserAgent(ctx)
	}
	for k, v := range ec.Payload {
		event.Payload[k] = v
	}
	summarizeAgent(event.ClientAgent, event.Payload)

	if r.sealer != nil {
		digest, err := r.sealer.Seal(event)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to seal audit event", "error", err, "event_id", event.ID.String())
		}
		event.Digest = digest
	}
	return event
}

func summarizeAgent(agent string, payload map[string]any) {
	if agent == "" {
		return
	}
	ua := useragent.New(agent)
	browser, version := ua.Browser()
	if browser != "" {
		payload["client_browser"] = browser + " " + version
	}
	if os := ua.OS(); os != "" {
		payload["client_os"] = os
	}
	if ua.Bot() {
		payload["client_bot"] = true
	}
}
