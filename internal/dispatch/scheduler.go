package dispatch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs the dispatcher for a fixed tenant list on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	d       *Dispatcher
	spec    string
	tenants []string
}

func NewScheduler(d *Dispatcher, spec string, tenants []string) *Scheduler {
	return &Scheduler{cron: cron.New(), d: d, spec: spec, tenants: tenants}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Strs("tenants", s.tenants).Msg("dispatch scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("dispatch scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunOnce plans every configured tenant and returns how many runs succeeded.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	ok := 0
	for _, tenant := range s.tenants {
		opts := s.d.Defaults
		opts.Trigger = TriggerCron
		if _, err := s.d.Run(ctx, tenant, opts); err != nil {
			continue
		}
		ok++
	}
	return ok
}
