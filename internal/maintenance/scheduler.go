package maintenance

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/config"
	"github.com/harvestbin/silo/internal/store"
)

// Scheduler runs periodic engine maintenance (planner stats refresh, WAL
// checkpoints, vacuum) on settings-driven cron schedules.
type Scheduler struct {
	store  *store.Store
	loader *config.Loader
	cron   *cron.Cron
}

// New creates a maintenance scheduler.
func New(s *store.Store) *Scheduler {
	return &Scheduler{
		store:  s,
		loader: config.NewLoader(s),
		cron:   cron.New(),
	}
}

// Start registers the configured jobs and starts the scheduler. An empty
// schedule disables the job.
func (m *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func() error
	}{
		{"optimize", m.loader.JSONString("maintenance.optimize_schedule", "@hourly"), m.store.Optimize},
		{"checkpoint", m.loader.JSONString("maintenance.checkpoint_schedule", "@every 15m"), m.store.Checkpoint},
		{"vacuum", m.loader.JSONString("maintenance.vacuum_schedule", ""), m.store.Vacuum},
	}

	registered := 0
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		name, run := job.name, job.run
		if _, err := m.cron.AddFunc(job.schedule, func() {
			if err := run(); err != nil {
				log.Error().Err(err).Str("job", name).Msg("Maintenance job failed")
				return
			}
			log.Debug().Str("job", name).Msg("Maintenance job complete")
		}); err != nil {
			return err
		}
		registered++
	}

	m.cron.Start()
	log.Info().Int("jobs", registered).Msg("Maintenance scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (m *Scheduler) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Debug().Msg("Maintenance scheduler stopped")
}
