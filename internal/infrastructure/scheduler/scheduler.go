// Package scheduler implements background job scheduling for the
// progression engine. It wraps robfig/cron with per-job timeouts,
// panic recovery, and structured run logging. Jobs cover nightly
// maintenance: streak recomputation and legacy filler cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context carries the per-job timeout and is cancelled on shutdown.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// ErrSchedulerStopped is returned when registering on a stopped scheduler.
var ErrSchedulerStopped = errors.New("scheduler: stopped")

// Config holds scheduler configuration.
type Config struct {
	// Location is the timezone used to evaluate cron expressions.
	// Streak day boundaries are UTC, so jobs default to UTC as well.
	Location *time.Location

	// JobTimeout bounds a single job run.
	JobTimeout time.Duration

	// Logger receives run logs.
	Logger *slog.Logger
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Location:   time.UTC,
		JobTimeout: 5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// Scheduler runs registered jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	config  Config
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	stopped bool
}

// NewScheduler creates a scheduler with the given configuration.
func NewScheduler(config Config) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:    cron.New(cron.WithLocation(config.Location)),
		config:  config,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules a job on a standard 5-field cron expression.
func (s *Scheduler) Register(spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if _, exists := s.entries[job.Name()]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name())
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %q: %w", job.Name(), err)
	}

	s.entries[job.Name()] = id
	s.logger.Info("job registered", "job", job.Name(), "spec", spec,
		"description", job.Description())
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "location", s.config.Location.String())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) {
	s.runJob(job)
}

// runJob executes one run with timeout, panic recovery and logging.
func (s *Scheduler) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	logger := s.logger.With("job", job.Name())
	logger.Info("job started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
			}
		}()
		return job.Run(ctx)
	}()

	duration := time.Since(start)
	if err != nil {
		logger.Error("job failed", "duration", duration, "error", err)
		return
	}
	logger.Info("job finished", "duration", duration)
}
