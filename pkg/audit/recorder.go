package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Record statuses reported to Metrics.
const (
	StatusWritten = "written"
	StatusDropped = "dropped"
	StatusFailed  = "failed"
)

// Metrics receives audit measurements.
type Metrics interface {
	AuditRecord(status string)
	AuditPruned(n int64)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Buffer is the queue length.
	// Default: 1024
	Buffer int

	// WriteTimeout bounds each storage write.
	// Default: 5s
	WriteTimeout time.Duration
}

// RecorderStats counts record outcomes since the recorder started.
type RecorderStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

// Recorder writes records to storage from a background goroutine.
type Recorder struct {
	storage      Storage
	metrics      Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time

	// mu orders Record's sends against Close's channel close.
	mu     sync.RWMutex
	closed bool
	queue  chan *Record
	wg     sync.WaitGroup

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder starts a recorder writing to storage. metrics may be nil.
func NewRecorder(storage Storage, cfg RecorderConfig, metrics Metrics, logger *slog.Logger) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		storage:      storage,
		metrics:      metrics,
		logger:       logger.With("component", "audit"),
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		queue:        make(chan *Record, cfg.Buffer),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record queues rec for writing and stamps RecordedAt if unset. It never
// blocks: when the queue is full or the recorder is closed the record is
// dropped and false is returned.
func (r *Recorder) Record(rec *Record) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now().UTC()
	}
	if !r.closed {
		select {
		case r.queue <- rec:
			return true
		default:
		}
	}
	r.dropped.Add(1)
	r.observe(StatusDropped)
	r.logger.Debug("audit record dropped", "id", rec.ID, "closed", r.closed)
	return false
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.storage.Store(ctx, rec)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.observe(StatusFailed)
			r.logger.Error("failed to write audit record", "id", rec.ID, "error", err)
			continue
		}
		r.written.Add(1)
		r.observe(StatusWritten)
	}
}

func (r *Recorder) observe(status string) {
	if r.metrics != nil {
		r.metrics.AuditRecord(status)
	}
}

// Close stops accepting records and waits until the queue is drained.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder stopped",
		"written", r.written.Load(),
		"dropped", r.dropped.Load(),
		"failed", r.failed.Load(),
	)
	return nil
}

// Stats returns the outcome counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Queued:  len(r.queue),
	}
}
