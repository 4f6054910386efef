package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Schedule defaults. Expiration runs once a night; grace sweeps run hourly
// so a rotated-out secret dies within an hour of its window closing.
const (
	DefaultExpirationSchedule = "0 2 * * *"
	DefaultGraceSchedule      = "0 * * * *"
)

// SchedulerConfig carries the cron expressions for the two sweeps.
type SchedulerConfig struct {
	ExpirationSchedule string
	GraceSchedule      string

	// SweepTimeout bounds a single sweep run.
	SweepTimeout time.Duration
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ExpirationSchedule: DefaultExpirationSchedule,
		GraceSchedule:      DefaultGraceSchedule,
		SweepTimeout:       5 * time.Minute,
	}
}

// Scheduler runs the sweeper on cron schedules.
type Scheduler struct {
	sweeper *Sweeper
	logger  *observability.Logger
	cfg     SchedulerConfig
	cron    *cron.Cron
}

// NewScheduler creates a scheduler around the sweeper.
func NewScheduler(sweeper *Sweeper, logger *observability.Logger, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start registers the sweep jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ExpirationSchedule, func() {
		s.run("expiration", s.sweeper.SweepExpired)
	}); err != nil {
		return fmt.Errorf("failed to schedule expiration sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.GraceSchedule, func() {
		s.run("grace", s.sweeper.SweepGracePeriods)
	}); err != nil {
		return fmt.Errorf("failed to schedule grace sweep: %w", err)
	}

	s.cron.Start()
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"expiration_schedule": s.cfg.ExpirationSchedule,
			"grace_schedule":      s.cfg.GraceSchedule,
		}).Info("maintenance scheduler started")
	}
	return nil
}

// Stop halts the cron loop and waits for any running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.logger != nil {
		s.logger.Info("maintenance scheduler stopped")
	}
}

func (s *Scheduler) run(name string, sweep func(context.Context) (int, error)) {
	defer observability.RecoverPanic(s.logger, name+" sweep")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	swept, err := sweep(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithField("sweep", name).Error("sweep failed")
		}
		return
	}
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"sweep": name,
			"swept": swept,
		}).Info("sweep completed")
	}

	if err := s.sweeper.RefreshGauges(ctx); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to refresh key gauges")
	}
}
