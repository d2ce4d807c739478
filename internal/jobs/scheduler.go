// Package jobs runs the periodic maintenance work: the notification recovery
// sweep and the rate limit window purge.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"agentgate/internal/notification/sweep"
)

type Sweeper interface {
	Sweep(ctx context.Context) (sweep.Result, error)
}

type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Schedules are six-field cron expressions (seconds first), evaluated in UTC.
// An empty schedule disables the job.
type Schedules struct {
	Sweep string
	Purge string
}

// Scheduler owns the cron runner. Runs of the same job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	purger  Purger
	logger  *slog.Logger
	// ctx is the parent of every job run; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(sweeper Sweeper, purger Purger, schedules Schedules, logger *slog.Logger) (*Scheduler, error) {
	if sweeper == nil || purger == nil {
		return nil, errors.New("sweeper and purger are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		sweeper: sweeper,
		purger:  purger,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if schedules.Sweep != "" {
		if _, err := s.cron.AddFunc(schedules.Sweep, func() { _ = s.RunSweep(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("register sweep schedule %q: %w", schedules.Sweep, err)
		}
	}
	if schedules.Purge != "" {
		if _, err := s.cron.AddFunc(schedules.Purge, func() { _ = s.RunPurge(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("register purge schedule %q: %w", schedules.Purge, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx ends, after
// which in-flight runs are cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("jobs still running at shutdown, cancelling")
		s.cancel()
		<-done.Done()
	}
	s.cancel()
}

// RunSweep performs one recovery sweep. The sweeper logs its own summary.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "notification sweep failed", "error", err)
		return err
	}
	return nil
}

// RunPurge removes expired rate limit windows.
func (s *Scheduler) RunPurge(ctx context.Context) error {
	n, err := s.purger.Purge(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit purge failed", "error", err)
		return err
	}
	s.logger.DebugContext(ctx, "rate limit purge finished", "removed", n)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
