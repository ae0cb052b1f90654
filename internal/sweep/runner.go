package sweep

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner drives the sweeper on a cron schedule.
type Runner struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *slog.Logger
	spec    string
}

// NewRunner builds a cron runner for the sweeper. The schedule comes from
// config (`reminders.cron_spec`, every minute by default).
func NewRunner(s *Sweeper, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Runner{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		sweeper: s,
		logger:  logger,
		spec:    s.Engine.Config.Reminders.CronSpec,
	}
}

// Start registers the sweep job and starts the scheduler.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.spec, func() {
		r.sweeper.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("session sweep scheduled", "spec", r.spec)
	return nil
}

// Stop stops the scheduler and returns a context that completes when any
// running sweep finishes.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}
