package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"agentgate/internal/platform/config"
	"agentgate/internal/platform/logger"
	"agentgate/migrations"
)

const usage = `usage: migrate [flags] up|down|status

flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dsn := flags.String("dsn", os.Getenv("DATABASE_DSN"), "postgres connection string")
	dir := flags.String("dir", os.Getenv("DATABASE_MIGRATIONS_DIR"), "migration directory; empty uses the embedded set")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("exactly one command is required")
	}
	if *dsn == "" {
		return errors.New("--dsn or DATABASE_DSN is required")
	}

	log := logger.New(config.LogConfig{Level: os.Getenv("LOG_LEVEL"), Format: "text"})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	provider, err := migrations.Provider(db, *dir)
	if err != nil {
		return err
	}

	switch cmd := flags.Arg(0); cmd {
	case "up":
		results, err := provider.Up(ctx)
		for _, r := range results {
			log.Info("applied migration", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
		}
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		if len(results) == 0 {
			log.Info("no pending migrations")
		}
	case "down":
		result, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("roll back migration: %w", err)
		}
		if result != nil {
			log.Info("rolled back migration", "version", result.Source.Version, "path", result.Source.Path)
		}
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, s := range statuses {
			log.Info("migration", "version", s.Source.Version, "path", s.Source.Path, "state", string(s.State), "applied_at", s.AppliedAt)
		}
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
