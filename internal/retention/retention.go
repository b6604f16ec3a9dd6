package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// ProdSchedule runs maintenance daily at 03:00 UTC
	ProdSchedule = "0 3 * * *"

	// DevSchedule runs maintenance every minute
	DevSchedule = "* * * * *"

	jobTimeout = 10 * time.Minute
)

// InvitationMaintainer is the part of the invitation service the job drives
type InvitationMaintainer interface {
	ResendUnsent(ctx context.Context) (sent, failed int, err error)
	PurgeStale(ctx context.Context) (int64, error)
}

// RunMaintenanceJob retries unsent invitations, then deletes stale ones.
// Both steps are idempotent.
func RunMaintenanceJob(ctx context.Context, m InvitationMaintainer) error {
	log.Info().Msg("Starting invitation maintenance job")

	startTime := time.Now()

	sent, failed, err := m.ResendUnsent(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resend unsent invitations")
		return fmt.Errorf("resend of unsent invitations failed: %w", err)
	}

	purged, err := m.PurgeStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge stale invitations")
		return fmt.Errorf("purge of stale invitations failed: %w", err)
	}

	log.Info().
		Int("invitations_resent", sent).
		Int("invitations_resend_failed", failed).
		Int64("invitations_purged", purged).
		Dur("duration", time.Since(startTime)).
		Msg("Invitation maintenance job completed")

	return nil
}

// NewScheduler returns an unstarted cron scheduler running the maintenance
// job on schedule in UTC.
func NewScheduler(schedule string, m InvitationMaintainer) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Invitation maintenance job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := RunMaintenanceJob(ctx, m); err != nil {
			log.Error().Err(err).Msg("Invitation maintenance job failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance job: %w", err)
	}

	return c, nil
}

// Schedule picks the cron expression for the environment
func Schedule(isDev bool) string {
	if isDev {
		return DevSchedule
	}
	return ProdSchedule
}
