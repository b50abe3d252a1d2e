// Command janitor removes deactivated property versions and finalized
// changesets past their retention window. By default it runs the configured
// cron schedule until interrupted; -once runs a single sweep and exits.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/changeset"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/property"
	"github.com/tgreenfield/groundwork-backend/internal/app"
	"github.com/tgreenfield/groundwork-backend/internal/config"
	"github.com/tgreenfield/groundwork-backend/internal/janitor"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	j := janitor.New(logger, cfg.Janitor, property.New(pool), changeset.New(pool))

	if *once {
		if err := j.Sweep(ctx); err != nil {
			logger.Error("sweep failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := j.Start(); err != nil {
		logger.Error("start janitor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	j.Stop()
	logger.Info("janitor stopped")
}
