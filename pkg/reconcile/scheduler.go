// Package reconcile periodically rebuilds the registry from the store.
//
// The feed keeps instances current between runs; reconciliation is the
// disaster-recovery path that converges a registry which missed events.
// Pair it with feed mirroring so the store stays authoritative.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/registry"
)

// Reloader rebuilds the registry from durable storage.
type Reloader interface {
	Reload(ctx context.Context) (*registry.Snapshot, error)
}

// Metrics receives reconciliation measurements.
type Metrics interface {
	ReconcileCompleted(d time.Duration, err error)
}

// Status describes the most recent run.
type Status struct {
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
}

// Scheduler runs reconciliation on a cron schedule.
type Scheduler struct {
	reloader Reloader
	schedule string
	timeout  time.Duration
	metrics  Metrics
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
	status  Status
}

// NewScheduler creates a scheduler. Zero-valued settings in cfg take
// their defaults.
func NewScheduler(reloader Reloader, cfg *config.ReconcileConfig, metrics Metrics, logger *slog.Logger) *Scheduler {
	c := config.ReconcileConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Schedule == "" {
		c.Schedule = config.DefaultReconcileSchedule
	}
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultReconcileTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reloader: reloader,
		schedule: c.Schedule,
		timeout:  c.Timeout,
		metrics:  metrics,
		cron:     cron.New(),
		logger:   logger.With("component", "reconcile"),
	}
}

// Start schedules reconciliation. The scheduler stops when ctx is done.
//
// Common schedules:
//   - "@every 5m"   - Every five minutes
//   - "*/15 * * * *" - Every fifteen minutes
//   - "0 3 * * *"   - Daily at 3 AM
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("reconcile scheduler started", "schedule", s.schedule, "timeout", s.timeout)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce reloads the registry from the store now. Failures leave the
// registry on its current snapshot.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	snap, err := s.reloader.Reload(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ReconcileCompleted(elapsed, err)
	}

	s.mu.Lock()
	s.status.LastRun = start
	s.status.LastDuration = elapsed
	s.status.Runs++
	s.status.LastError = ""
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("reconciliation failed, keeping current rule set",
			"error", err,
			"duration", elapsed,
		)
		return err
	}
	s.logger.Info("reconciliation completed",
		"rules", snap.Len(),
		"version", snap.Version,
		"digest", snap.Digest,
		"duration", elapsed,
	)
	return nil
}

// Stop stops the scheduler and waits for a running reconciliation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("reconcile scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// Status returns the outcome of the most recent run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
