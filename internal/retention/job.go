// Package retention enforces per-organization event retention plans.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"error-tracker/internal/config"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/telemetry"
)

// EventStore is the slice of the document repository the cleanup needs.
type EventStore interface {
	OrganizationsWithRetention(ctx context.Context) ([]models.Organization, error)
	RemoveEventsBefore(ctx context.Context, orgID string, cutoff time.Time, limit int) (int64, error)
}

// Job deletes events older than each organization's retention window. It
// runs under a distributed lock and pages deletes to bound load.
type Job struct {
	store    EventStore
	pageSize int
	log      zerolog.Logger

	now func() time.Time
}

// NewJob builds the cleanup job.
func NewJob(st EventStore, cfg config.Config, log zerolog.Logger) *Job {
	pageSize := cfg.RetentionPageSize
	if pageSize == 0 {
		pageSize = 500
	}
	return &Job{
		store:    st,
		pageSize: pageSize,
		log:      log.With().Str("job", "retention-cleanup").Logger(),
		now:      time.Now,
	}
}

func (j *Job) Name() string { return "retention-cleanup" }

// Run walks retention-enabled organizations, deleting expired events in
// pages and renewing the job lock between pages.
func (j *Job) Run(ctx context.Context) error {
	orgs, err := j.store.OrganizationsWithRetention(ctx)
	if err != nil {
		return err
	}
	now := j.now()

	for _, org := range orgs {
		cutoff := now.AddDate(0, 0, -org.RetentionDays)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			removed, err := j.store.RemoveEventsBefore(ctx, org.ID, cutoff, j.pageSize)
			if err != nil {
				return err
			}
			if removed == 0 {
				break
			}
			telemetry.EventsExpired.Add(float64(removed))
			j.log.Debug().Str("org", org.ID).Int64("removed", removed).Msg("expired events removed")
			if err := jobs.RenewLock(ctx); err != nil {
				j.log.Warn().Err(err).Msg("lock renewal failed")
			}
		}
	}
	return nil
}
