package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
)

type Runner interface {
	Reindex(ctx context.Context, trigger Trigger) (Report, error)
}

// Scheduler fires reindex passes on a fixed interval and on demand. A pass
// that fails or panics is logged and never stops the schedule.
type Scheduler struct {
	runner       Runner
	interval     time.Duration
	initialDelay time.Duration
	runOnStartup bool
	logger       *zap.Logger
}

func NewScheduler(runner Runner, cfg config.ReindexConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:       runner,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		runOnStartup: cfg.RunOnStartup,
		logger:       logger,
	}
}

// Run blocks until ctx is done. After the initial delay it runs the startup
// pass when enabled, then one pass per interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reindex scheduler started",
		zap.Duration("initial_delay", s.initialDelay),
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_startup", s.runOnStartup),
	)
	defer s.logger.Info("reindex scheduler stopped")

	delay := time.NewTimer(s.initialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-delay.C:
	}

	if s.runOnStartup {
		s.fire(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, TriggerSchedule)
		}
	}
}

// Trigger runs one pass now and waits for it. It is rejected with
// ErrReindexInProgress while another pass runs.
func (s *Scheduler) Trigger(ctx context.Context, trigger Trigger) (report Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("reindex pass panicked",
				zap.String("trigger", string(trigger)),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("reindex pass panicked: %v", rec)
		}
	}()
	return s.runner.Reindex(ctx, trigger)
}

func (s *Scheduler) fire(ctx context.Context, trigger Trigger) {
	report, err := s.Trigger(ctx, trigger)
	switch {
	case errors.Is(err, ErrReindexInProgress):
		s.logger.Info("reindex pass skipped, another pass is running", zap.String("trigger", string(trigger)))
	case err != nil:
		s.logger.Error("reindex pass failed", zap.String("trigger", string(trigger)), zap.Error(err))
	case report.Processed == 0:
		s.logger.Warn("reindex pass indexed nothing", zap.String("trigger", string(trigger)))
	default:
		s.logger.Info("reindex pass finished",
			zap.String("trigger", string(trigger)),
			zap.Int("processed", report.Processed),
			zap.Duration("duration", report.Duration),
		)
	}
}
