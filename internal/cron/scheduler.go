// Package cron runs the overdue-deadline sweep on a cron schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Sweeper is the job the scheduler fires. engine.Service satisfies it.
type Sweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Sweeper  Sweeper
	Schedule string // cron expression; defaults to every five minutes
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero

	// Now is swapped in tests.
	Now func() time.Time
}

// Scheduler ticks at a fixed interval and runs the sweep whenever the
// schedule's next run time has passed.
type Scheduler struct {
	sweeper  Sweeper
	schedule cronlib.Schedule
	expr     string
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	lastRun time.Time
	runs    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the schedule and returns a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Sweeper == nil {
		return nil, fmt.Errorf("cron: sweeper is required")
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = "*/5 * * * *"
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: parse schedule %q: %w", expr, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		sweeper:  cfg.Sweeper,
		schedule: sched,
		expr:     expr,
		logger:   logger,
		interval: interval,
		now:      now,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "schedule", s.expr, "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// NextRun returns the time the sweep is next due. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Runs returns how many sweeps have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sweep once on startup to catch deadlines that passed while down.
	s.fire(ctx, s.now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := !now.Before(s.nextRun)
	s.mu.Unlock()
	if due {
		s.fire(ctx, now)
	}
}

// fire runs the sweep and schedules the next run. A failed sweep still
// advances the schedule so a persistent error is not retried every tick.
func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	n, err := s.sweeper.SweepOverdue(ctx, now)
	next := s.schedule.Next(now)

	s.mu.Lock()
	s.lastRun = now
	s.nextRun = next
	if err == nil {
		s.runs++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron: overdue sweep failed", "error", err, "next_run_at", next)
		return
	}
	s.logger.Debug("cron: overdue sweep finished", "notified", n, "next_run_at", next)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
