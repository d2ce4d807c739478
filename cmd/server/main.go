package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"agentgate/internal/app"
	"agentgate/internal/platform/config"
	"agentgate/internal/platform/httpserver"
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

	router, admission, err := deps.HTTP()
	if err != nil {
		deps.Close(context.Background())
		return err
	}
	srv := httpserver.New(cfg.Server, router)

	// The audit worker outlives the HTTP server so events recorded during
	// shutdown are still drained.
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		deps.RunAuditWorker(auditCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting agentgate", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := admission.Wait(shutdownCtx); err != nil {
			log.Warn("background notifications still running at shutdown", "error", err)
		}
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
		return nil
	})

	err = g.Wait()
	if err != nil {
		log.Error("server stopped", slog.Any("error", err))
	}
	return err
}
