package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRetention is how long an untouched session is kept.
const DefaultRetention = 7 * 24 * time.Hour

// Cleaner prunes stale sessions on a cron schedule.
type Cleaner struct {
	store     *Store
	logger    zerolog.Logger
	retention time.Duration
	cron      *cron.Cron
}

// NewCleaner schedules periodic pruning of sessions not touched within
// the retention window. The schedule accepts standard five-field cron
// expressions plus descriptors like "@daily".
func NewCleaner(store *Store, schedule string, retention time.Duration, logger zerolog.Logger) (*Cleaner, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	c := &Cleaner{
		store:     store,
		logger:    logger,
		retention: retention,
		cron:      cron.New(),
	}

	if _, err := c.cron.AddFunc(schedule, c.runOnce); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return c, nil
}

// Start begins the cleanup schedule.
func (c *Cleaner) Start() {
	c.cron.Start()
	c.logger.Info().Dur("retention", c.retention).Msg("Session cleanup scheduled")
}

// Stop halts the schedule and waits for a running job to finish.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *Cleaner) runOnce() {
	pruned, err := c.store.Prune(context.Background(), c.retention)
	if err != nil {
		c.logger.Error().Err(err).Msg("Session cleanup failed")
		return
	}
	if pruned > 0 {
		c.logger.Info().Int("sessions", pruned).Msg("Pruned stale sessions")
	}
}
