package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

// DefaultStaleMessage is written to jobs the sweeper fails.
const DefaultStaleMessage = "Processing took too long and was stopped. Please try again."

// DefaultSweepSchedule runs the sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper fails processing jobs whose invocation budget has run out. It covers
// workers that died without reaching their failure hook.
type Sweeper struct {
	registry *jobs.Registry
	maxAge   time.Duration
	message  string
	logger   *zap.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewSweeper builds a sweeper that fails jobs processing for longer than maxAge.
func NewSweeper(registry *jobs.Registry, maxAge time.Duration, message string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if message == "" {
		message = DefaultStaleMessage
	}
	return &Sweeper{
		registry: registry,
		maxAge:   maxAge,
		message:  message,
		logger:   logger.Named("sweeper"),
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules the sweep. An empty schedule uses DefaultSweepSchedule.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.sweepScheduled); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("stale job sweeper started",
		zap.String("schedule", schedule),
		zap.Duration("max_age", s.maxAge))
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("stale job sweeper stopped")
}

func (s *Sweeper) sweepScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("stale job sweep failed", zap.Error(err))
	}
}

// Sweep fails every stale job and returns how many it failed. Jobs that reached a
// terminal state in the meantime are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	stale, err := s.registry.Store().ListStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	s.logger.Warn("detected stale jobs", zap.Int("count", len(stale)), zap.Time("cutoff", cutoff))

	failed := 0
	for _, job := range stale {
		c, err := s.registry.Controller(ctx, job.ID)
		if err != nil {
			s.logger.Warn("failed to load stale job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		if err := c.Fail(ctx, s.message); err != nil {
			if errors.Is(err, jobs.ErrJobTerminal) {
				continue
			}
			s.logger.Warn("failed to fail stale job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		failed++
	}
	return failed, nil
}
