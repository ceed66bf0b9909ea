// Package maintain runs periodic cache upkeep: budget trims and metric
// gauge refreshes on a cron schedule.
package maintain

import (
	"context"

	"github.com/mileusna/crontab"
	log "github.com/sirupsen/logrus"

	"github.com/campuspulse/edgecache/internal/evict"
	"github.com/campuspulse/edgecache/internal/store"
)

// DefaultSchedule trims every ten minutes.
const DefaultSchedule = "*/10 * * * *"

// Gauges receives partition size snapshots after each sweep. Satisfied by
// the metrics collector; may be nil.
type Gauges interface {
	UpdatePartitionGauges(ctx context.Context, stores *store.Manager)
}

// Scheduler owns the cron table for cache upkeep.
type Scheduler struct {
	stores  *store.Manager
	trimmer *evict.Trimmer
	gauges  Gauges
	tab     *crontab.Crontab
	logger  *log.Entry
}

// NewScheduler creates a scheduler; Start registers the jobs.
func NewScheduler(stores *store.Manager, trimmer *evict.Trimmer, gauges Gauges) *Scheduler {
	return &Scheduler{
		stores:  stores,
		trimmer: trimmer,
		gauges:  gauges,
		logger:  log.WithField("package", "maintain"),
	}
}

// Start registers the sweep on the given cron schedule and begins
// running it. The schedule must be a five-field cron expression.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s.tab = crontab.New()
	if err := s.tab.AddJob(schedule, s.Sweep); err != nil {
		return err
	}
	s.logger.WithField("schedule", schedule).Info("maintenance scheduler started")
	return nil
}

// Stop cancels the scheduled jobs.
func (s *Scheduler) Stop() {
	if s.tab != nil {
		s.tab.Shutdown()
	}
}

// Sweep runs one maintenance pass: trim both budgeted partitions and
// refresh the size gauges. Also invoked directly at startup so a restart
// with an over-budget disk cache converges immediately.
func (s *Scheduler) Sweep() {
	ctx := context.Background()

	if removed, err := s.trimmer.TrimMedia(ctx); err != nil {
		s.logger.WithError(err).Warn("media trim failed")
	} else if removed > 0 {
		s.logger.WithField("removed", removed).Info("media trim complete")
	}

	if removed, err := s.trimmer.TrimVideo(ctx); err != nil {
		s.logger.WithError(err).Warn("video trim failed")
	} else if removed > 0 {
		s.logger.WithField("removed", removed).Info("video trim complete")
	}

	if s.gauges != nil {
		s.gauges.UpdatePartitionGauges(ctx, s.stores)
	}
}
