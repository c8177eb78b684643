package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig controls the periodic sweep loop.
type SchedulerConfig struct {
	// Interval between sweep starts.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// RunOnStart triggers a sweep immediately instead of waiting one interval.
	RunOnStart bool `json:"run_on_start" yaml:"run_on_start"`
	// Retention, when positive, also purges terminal conversations older
	// than this on every sweep tick.
	Retention time.Duration `json:"retention" yaml:"retention"`
}

// DefaultSchedulerConfig returns the default scheduling configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Minute,
		RunOnStart: true,
	}
}

// Scheduler runs the sweeper on a fixed interval. If a sweep is still running
// when the next tick fires, the tick is skipped rather than queued.
type Scheduler struct {
	sweeper *Sweeper
	cfg     SchedulerConfig
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler around a sweeper.
func NewScheduler(s *Sweeper, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sweeper: s,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "sweep_scheduler")),
	}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sweep scheduler started", zap.Duration("interval", s.cfg.Interval))

	if s.cfg.RunOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// TriggerNow runs one sweep outside the schedule, subject to the same
// no-overlap rule. Returns false when a sweep was already in flight.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous sweep still running, skipping tick")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}

	if s.cfg.Retention > 0 {
		cutoff := time.Now().UTC().Add(-s.cfg.Retention)
		if _, err := s.sweeper.store.PurgeTerminal(ctx, cutoff); err != nil {
			s.logger.Error("terminal purge failed", zap.Error(err))
		}
	}
	return true
}
