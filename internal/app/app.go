// Package app builds the shared object graph used by the server and sweeper
// commands. An empty database DSN selects in-memory stores.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"

	accountService "agentgate/internal/account/service"
	accountStore "agentgate/internal/account/store"
	invitationService "agentgate/internal/invitation/service"
	invitationStore "agentgate/internal/invitation/store"
	"agentgate/internal/notification/dispatcher"
	notificationMetrics "agentgate/internal/notification/metrics"
	notificationModels "agentgate/internal/notification/models"
	"agentgate/internal/notification/render"
	notificationStore "agentgate/internal/notification/store"
	"agentgate/internal/notification/sweep"
	"agentgate/internal/notification/transport"
	"agentgate/internal/platform/config"
	"agentgate/internal/platform/postgres"
	redisclient "agentgate/internal/platform/redis"
	rlMetrics "agentgate/internal/ratelimit/metrics"
	"agentgate/internal/ratelimit/ports"
	"agentgate/internal/ratelimit/service/limiter"
	"agentgate/internal/ratelimit/store/window"
	"agentgate/pkg/platform/audit"
	"agentgate/pkg/platform/audit/publishers/stream"
	auditmemory "agentgate/pkg/platform/audit/store/memory"
	auditpostgres "agentgate/pkg/platform/audit/store/postgres"
	"agentgate/pkg/platform/audit/worker"
	"agentgate/pkg/platform/circuit"
	pkgstrings "agentgate/pkg/platform/strings"
)

// App holds long-lived collaborators. Close releases them in reverse order.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clockwork.Clock

	Pool  *pgxpool.Pool
	DB    *sql.DB
	Redis *redisclient.Client
	Kafka *kgo.Client

	Auditor     *audit.Recorder
	AuditStore  audit.Store
	auditWorker *worker.Worker
	auditQueue  chan audit.Event

	Limiter     *limiter.Limiter
	Invitations *invitationService.Service
	Accounts    *accountService.Service
	Dispatcher  *dispatcher.Dispatcher
	Sweeper     *sweep.Sweeper
}

// Build connects to the configured backends and wires every service.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Clock: clockwork.NewRealClock()}
	if err := a.connect(ctx); err != nil {
		a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.Pool = pool

		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping audit database: %w", err)
		}
		a.DB = db
	}

	if cfg.RateLimit.Backend == "redis" {
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		if client == nil {
			return errors.New("redis rate limit backend requires REDIS_URL")
		}
		a.Redis = client
	}

	if brokers := pkgstrings.DedupeAndTrim(cfg.Audit.KafkaBrokers); len(brokers) > 0 {
		client, err := stream.NewClient(brokers, "agentgate-audit")
		if err != nil {
			return err
		}
		a.Kafka = client
		if err := stream.EnsureTopic(ctx, client, cfg.Audit.KafkaTopic, 3, 1); err != nil {
			a.Logger.WarnContext(ctx, "audit topic check failed", "topic", cfg.Audit.KafkaTopic, "error", err)
		}
	}
	return nil
}

func (a *App) wire() error {
	cfg := a.Config
	var err error

	windows, err := a.windowStore()
	if err != nil {
		return err
	}
	if a.Auditor, err = a.buildAuditor(); err != nil {
		return err
	}

	a.Limiter, err = limiter.New(windows,
		limiter.WithLogger(a.Logger),
		limiter.WithAuditor(a.Auditor),
		limiter.WithClock(a.Clock),
		limiter.WithMetrics(rlMetrics.New()),
	)
	if err != nil {
		return err
	}

	var (
		invitations invitationService.Store
		accounts    interface {
			accountService.AccountStore
			accountService.ProfileStore
		}
		failed failedStore
		txOpts []accountService.Option
	)
	if a.Pool != nil {
		invitations = invitationStore.NewPostgresStore(a.Pool)
		accounts = accountStore.NewPostgresStore(a.Pool)
		failed = notificationStore.NewPostgresStore(a.Pool)
		txOpts = append(txOpts, accountService.WithTxRunner(postgres.NewTxManager(a.Pool)))
	} else {
		invitations = invitationStore.NewInMemoryStore()
		accounts = accountStore.NewInMemoryStore()
		failed = notificationStore.NewInMemoryStore()
	}

	// The invitation service asks the account service whether an address is
	// taken, and the account service consumes invitations; accountLookup
	// breaks the construction cycle.
	lookup := &accountLookup{}
	a.Invitations, err = invitationService.New(invitations, lookup, a.Auditor,
		invitationService.WithLogger(a.Logger),
		invitationService.WithClock(a.Clock),
		invitationService.WithDefaultTTL(cfg.Invitation.TTL),
	)
	if err != nil {
		return err
	}
	a.Accounts, err = accountService.New(accounts, accounts, a.Invitations, a.Auditor, append(txOpts,
		accountService.WithLogger(a.Logger),
		accountService.WithClock(a.Clock),
		accountService.WithBcryptCost(cfg.Account.BcryptCost),
		accountService.WithMinPasswordLength(cfg.Account.MinPasswordLength),
	)...)
	if err != nil {
		return err
	}
	lookup.accounts = a.Accounts

	mail, err := a.transport()
	if err != nil {
		return err
	}
	renderer, err := render.New()
	if err != nil {
		return err
	}
	notifyMetrics := notificationMetrics.New()
	a.Dispatcher, err = dispatcher.New(mail, renderer, failed, a.Auditor, dispatcher.Config{
		From:           notificationModels.Recipient{Name: cfg.Notification.FromName, Email: cfg.Notification.FromAddress},
		MaxAttempts:    cfg.Notification.MaxAttempts,
		InlineAttempts: cfg.Notification.InlineAttempts,
		Timeout:        cfg.Notification.Timeout,
		AttemptTimeout: cfg.Notification.AttemptTimeout,
		InitialBackoff: cfg.Notification.InitialBackoff,
		MaxBackoff:     cfg.Notification.MaxBackoff,
	},
		dispatcher.WithLogger(a.Logger),
		dispatcher.WithClock(a.Clock),
		dispatcher.WithMetrics(notifyMetrics),
	)
	if err != nil {
		return err
	}

	a.Sweeper, err = sweep.New(failed, a.Dispatcher, a.Auditor, sweep.Config{
		BatchSize:   cfg.Sweep.BatchSize,
		Concurrency: cfg.Sweep.Concurrency,
		Timeout:     cfg.Sweep.Timeout,
		Lease:       cfg.Sweep.Lease,
	},
		sweep.WithLogger(a.Logger),
		sweep.WithClock(a.Clock),
		sweep.WithMetrics(notifyMetrics),
	)
	return err
}

func (a *App) buildAuditor() (*audit.Recorder, error) {
	cfg := a.Config.Audit
	var store audit.Store = auditmemory.NewInMemoryStore()
	if a.DB != nil {
		store = auditpostgres.New(a.DB)
	}

	opts := []audit.Option{
		audit.WithLogger(a.Logger),
		audit.WithClock(a.Clock),
		audit.WithMetrics(audit.NewMetrics()),
		audit.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.DigestSecret != "" {
		opts = append(opts, audit.WithSealer(audit.NewSealer(cfg.DigestSecret)))
	}
	if a.Kafka != nil {
		mirror, err := stream.New(a.Kafka, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		opts = append(opts, audit.WithMirror(mirror))
	}
	if cfg.BufferSize > 0 {
		a.auditQueue = make(chan audit.Event, cfg.BufferSize)
		opts = append(opts, audit.WithQueue(a.auditQueue))
	}

	a.AuditStore = store
	recorder, err := audit.New(store, opts...)
	if err != nil {
		return nil, err
	}
	if a.auditQueue != nil {
		a.auditWorker = worker.NewWorker(recorder, a.auditQueue, a.Logger)
	}
	return recorder, nil
}

func (a *App) windowStore() (ports.WindowStore, error) {
	switch a.Config.RateLimit.Backend {
	case "postgres":
		if a.Pool == nil {
			return nil, errors.New("postgres rate limit backend requires a database")
		}
		return window.NewPostgresStore(a.Pool), nil
	case "redis":
		return window.NewRedisStore(a.Redis.Client, a.Config.RateLimit.KeyPrefix), nil
	default:
		return window.NewInMemoryStore(window.WithMemoryClock(a.Clock)), nil
	}
}

func (a *App) transport() (transport.Transport, error) {
	cfg := a.Config.Notification
	if cfg.Transport == "sendgrid" {
		sendgrid, err := transport.NewSendGrid(cfg.SendGrid.APIKey)
		if err != nil {
			return nil, err
		}
		breaker := circuit.New("sendgrid",
			circuit.WithFailureThreshold(cfg.Breaker.Failures),
			circuit.WithCooldown(cfg.Breaker.Cooldown),
			circuit.WithClock(a.Clock),
		)
		return transport.NewGuarded(sendgrid, breaker, a.Logger), nil
	}
	return transport.NewLog(a.Logger), nil
}

// RunAuditWorker persists buffered audit events until ctx ends, then drains
// the queue. It returns immediately in unbuffered mode.
func (a *App) RunAuditWorker(ctx context.Context) {
	if a.auditWorker == nil {
		return
	}
	a.auditWorker.Run(ctx)
}

// HealthChecks lists pings for the configured backends.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.Pool != nil {
		checks["postgres"] = a.Pool.Ping
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health
	}
	return checks
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.Kafka != nil {
		if err := a.Kafka.Flush(ctx); err != nil {
			a.Logger.WarnContext(ctx, "failed to flush audit stream", "error", err)
		}
		a.Kafka.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

type failedStore interface {
	dispatcher.FailedStore
	sweep.Store
}

type accountLookup struct {
	accounts *accountService.Service
}

func (l *accountLookup) ExistsByEmail(ctx context.Context, address string) (bool, error) {
	return l.accounts.ExistsByEmail(ctx, address)
}
