package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner enforces the retention period and the record cap.
type Pruner struct {
	storage    Storage
	retention  time.Duration
	maxRecords int64
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewPruner creates a pruner. A zero retention or maxRecords disables
// that limit. metrics may be nil.
func NewPruner(storage Storage, retention time.Duration, maxRecords int64, metrics Metrics, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage:    storage,
		retention:  retention,
		maxRecords: maxRecords,
		metrics:    metrics,
		logger:     logger.With("component", "audit"),
		now:        time.Now,
	}
}

// Prune deletes records older than the retention period, then the oldest
// records beyond the cap. It returns the number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.retention > 0 {
		n, err := p.storage.DeleteBefore(ctx, p.now().Add(-p.retention))
		total += n
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
	}

	if p.maxRecords > 0 {
		count, err := p.storage.Count(ctx)
		if err != nil {
			return total, fmt.Errorf("count records: %w", err)
		}
		if excess := count - p.maxRecords; excess > 0 {
			n, err := p.storage.DeleteOldest(ctx, excess)
			total += n
			if err != nil {
				return total, fmt.Errorf("prune by count: %w", err)
			}
		}
	}

	if total > 0 && p.metrics != nil {
		p.metrics.AuditPruned(total)
	}
	return total, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler running pruner on schedule.
func NewScheduler(pruner *Pruner, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "audit"),
	}
}

// Start schedules pruning. The scheduler stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("audit retention scheduler started",
		"schedule", s.schedule,
		"retention", s.pruner.retention,
		"max_records", s.pruner.maxRecords,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("audit pruning failed", "error", err, "deleted", deleted)
		return
	}
	if deleted > 0 {
		s.logger.Info("audit pruning completed", "deleted", deleted)
	} else {
		s.logger.Debug("audit pruning completed, nothing to delete")
	}
}

// Stop stops the scheduler and waits for a running prune.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("audit retention scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
