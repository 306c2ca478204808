package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minuteline/consultd/internal/domain"
)

// Store persists deduction records to the append-only audit trail.
type Store interface {
	InsertDeductionRecord(ctx context.Context, rec domain.DeductionRecord) error
}

// Recorder buffers deduction records and writes them out on its own cadence
// so audit persistence never delays the metering path. Records that fail to
// persist are requeued and retried on the next flush.
type Recorder struct {
	store         Store
	logger        *slog.Logger
	flushInterval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool

	mu      sync.Mutex
	pending []domain.DeductionRecord
}

func NewRecorder(store Store, logger *slog.Logger, flushInterval time.Duration) *Recorder {
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:         store,
		logger:        logger,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the flush loop. Idempotent and safe to race with Stop.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.loop()
	})
}

// Stop flushes whatever is pending and halts the flush loop. Idempotent. A
// recorder that was never started still gets its pending records flushed.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	if r.started.Load() {
		<-r.doneCh
		return
	}
	r.Flush(context.Background())
}

// Record enqueues a deduction record. Never blocks.
func (r *Recorder) Record(rec domain.DeductionRecord) {
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

func (r *Recorder) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.stopCh:
			r.Flush(context.Background())
			return
		}
	}
}

// Flush writes all pending records through the store, requeueing failures.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var remaining []domain.DeductionRecord
	for _, rec := range pending {
		if err := r.store.InsertDeductionRecord(ctx, rec); err != nil {
			remaining = append(remaining, rec)
			r.logger.Warn("persist deduction record",
				"session_id", rec.SessionID,
				"error", err,
			)
		}
	}

	if len(remaining) > 0 {
		r.mu.Lock()
		r.pending = append(remaining, r.pending...)
		r.mu.Unlock()
	}
}
