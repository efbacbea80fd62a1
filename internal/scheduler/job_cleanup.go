package scheduler

import (
	"context"
	"time"

	"exposure_backend/internal/jobs"
	"exposure_backend/platform/logger"
)

const (
	defaultJobCleanupInterval = time.Hour
	defaultJobRetention       = 30 * 24 * time.Hour
)

// JobPurger deletes finished job documents.
type JobPurger interface {
	PurgeFinished(ctx context.Context, cutoff time.Time, kinds ...jobs.Kind) (int, error)
}

// JobCleanup periodically removes old finished recompute and agent-removal
// jobs. Import jobs are kept for as long as they can be undone.
type JobCleanup struct {
	tracker   JobPurger
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewJobCleanup(tracker JobPurger, log *logger.Logger, interval, retention time.Duration) *JobCleanup {
	if interval <= 0 {
		interval = defaultJobCleanupInterval
	}
	if retention <= 0 {
		retention = defaultJobRetention
	}

	return &JobCleanup{
		tracker:   tracker,
		log:       log,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (c *JobCleanup) Run(ctx context.Context) {
	if c == nil || c.tracker == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *JobCleanup) cleanup(ctx context.Context) int {
	cutoff := c.now().Add(-c.retention)
	deleted, err := c.tracker.PurgeFinished(ctx, cutoff, jobs.KindRecompute, jobs.KindAgentRemoval)
	if err != nil {
		c.log.Warn("job cleanup failed", "error", err)
		return deleted
	}

	if deleted > 0 {
		c.log.Info("job cleanup deleted finished jobs", "deleted", deleted)
	}
	return deleted
}
