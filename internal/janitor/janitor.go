// Package janitor runs scheduled retention sweeps: deactivated property
// versions and finalized changesets past their retention window are removed
// for good.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tgreenfield/groundwork-backend/internal/config"
)

type propertyPurger interface {
	PurgeDeactivatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type changesetPurger interface {
	PurgeFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor owns the cron schedule and the sweep itself.
type Janitor struct {
	log        *slog.Logger
	cfg        config.JanitorConfig
	properties propertyPurger
	changesets changesetPurger
	cron       *cron.Cron
}

// New creates a janitor. Start must be called to arm the schedule; Sweep can
// also be invoked directly for one-shot runs.
func New(log *slog.Logger, cfg config.JanitorConfig, properties propertyPurger, changesets changesetPurger) *Janitor {
	return &Janitor{
		log:        log.With("component", "janitor"),
		cfg:        cfg,
		properties: properties,
		changesets: changesets,
		cron:       cron.New(),
	}
}

// Start arms the cron schedule. Sweeps run until Stop is called.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := j.Sweep(ctx); err != nil {
			j.log.Error("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.log.Info("janitor started", "schedule", j.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep purges everything past retention. Each table is swept independently
// so one failure does not block the other.
func (j *Janitor) Sweep(ctx context.Context) error {
	versionCutoff := time.Now().AddDate(0, 0, -j.cfg.VersionRetentionDays)
	changesetCutoff := time.Now().AddDate(0, 0, -j.cfg.ChangesetRetentionDays)

	var firstErr error

	versions, err := j.properties.PurgeDeactivatedBefore(ctx, versionCutoff)
	if err != nil {
		firstErr = fmt.Errorf("purge property versions: %w", err)
		j.log.ErrorContext(ctx, "property version purge failed", "error", err)
	} else {
		j.log.InfoContext(ctx, "property versions purged",
			"rows", versions, "cutoff", versionCutoff)
	}

	changesets, err := j.changesets.PurgeFinalizedBefore(ctx, changesetCutoff)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("purge changesets: %w", err)
		}
		j.log.ErrorContext(ctx, "changeset purge failed", "error", err)
	} else {
		j.log.InfoContext(ctx, "changesets purged",
			"rows", changesets, "cutoff", changesetCutoff)
	}

	return firstErr
}
