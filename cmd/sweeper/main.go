package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"agentgate/internal/app"
	"agentgate/internal/jobs"
	"agentgate/internal/platform/config"
	"agentgate/internal/platform/logger"
	"agentgate/internal/platform/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sweeper", pflag.ContinueOnError)
	once := flags.Bool("once", false, "run one sweep and one purge, then exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		deps.RunAuditWorker(auditCtx)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		stopAudit()
		select {
		case <-auditDone:
		case <-shutdownCtx.Done():
			log.Warn("audit queue not drained before shutdown deadline")
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
		deps.Close(shutdownCtx)
	}()

	schedules := jobs.Schedules{Sweep: cfg.Sweep.Schedule, Purge: cfg.Sweep.PurgeSchedule}
	if *once {
		schedules = jobs.Schedules{}
	}
	scheduler, err := jobs.New(deps.Sweeper, deps.Limiter, schedules, log)
	if err != nil {
		return err
	}

	if *once {
		return errors.Join(scheduler.RunSweep(ctx), scheduler.RunPurge(ctx))
	}

	log.Info("starting sweeper", "sweep_schedule", cfg.Sweep.Schedule, "purge_schedule", cfg.Sweep.PurgeSchedule)
	scheduler.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Sweep.Timeout)
	defer cancel()
	scheduler.Stop(stopCtx)
	log.Info("sweeper stopped")
	return nil
}
