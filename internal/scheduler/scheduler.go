package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

// Scheduler periodically removes expired sessions from the store.
type Scheduler struct {
	scheduler *gocron.Scheduler
	store     solar.SessionStore
	interval  time.Duration
}

// New creates a new Scheduler.
func New(store solar.SessionStore, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		store:     store,
		interval:  interval,
	}
}

// Start schedules the sweep job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 5
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(s.sweep)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) sweep() {
	removed := s.store.Sweep()
	if removed > 0 {
		logger.Log.WithField("removed", removed).Info("scheduler: swept expired sessions")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
