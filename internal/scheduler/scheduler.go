package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"legit-bot/internal/logging"
)

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

// New creates a scheduler working in UTC.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers fn under a cron spec such as "0 21 * * *" or "@every 5m".
// A failing run is logged and retried at the next tick.
func (s *Scheduler) AddJob(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := fn(s.ctx); err != nil {
			logging.Errorw("scheduled job failed", "job", name, "error", err)
			return
		}
		logging.Debugf("scheduled job %s finished in %s", name, time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	logging.Infof("scheduled job %s (%s)", name, spec)
	return nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.running.Store(true)
	logging.Infof("scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs and cancels their context.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	logging.Infof("scheduler stopped")
}

// IsRunning reports whether the scheduler was started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Check fails while the scheduler is not running. It fits health.Check.
func (s *Scheduler) Check(ctx context.Context) error {
	if !s.IsRunning() {
		return errors.New("scheduler is not running")
	}
	return nil
}
