package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/internal/queue"
)

// jobContext owns every piece of state the workers of one job share: the
// queue, the counters, the cancellation flags and the pending saves. Workers
// only touch it through synchronized operations; there are no ambient
// globals.
type jobContext struct {
	orderID string
	total   int
	queue   *queue.Queue
	saves   *SaveTracker
	logger  *slog.Logger

	success   atomic.Int64
	failed    atomic.Int64
	processed atomic.Int64
	active    atomic.Int64

	cancelled     atomic.Bool
	userRequested atomic.Bool
	exhausted     atomic.Bool

	mu        sync.Mutex
	purchases []domain.PurchaseRecord

	progress     ProgressFunc
	progressMu   sync.Mutex
	lastReported int64
}

func newJobContext(spec JobSpec, progress ProgressFunc, saves *SaveTracker, logger *slog.Logger) *jobContext {
	return &jobContext{
		orderID:  spec.OrderID,
		total:    spec.TaskCount,
		queue:    queue.New(spec.TaskCount),
		saves:    saves,
		progress: progress,
		logger:   logger,
	}
}

// abort stops the job for an internal fatal reason (balance exhausted).
func (jc *jobContext) abort() { jc.cancelled.Store(true) }

// cancelByUser stops the job on the caller's request.
func (jc *jobContext) cancelByUser() {
	jc.userRequested.Store(true)
	jc.cancelled.Store(true)
}

func (jc *jobContext) isCancelled() bool { return jc.cancelled.Load() }

func (jc *jobContext) addRecord(rec domain.PurchaseRecord) {
	jc.mu.Lock()
	jc.purchases = append(jc.purchases, rec)
	jc.mu.Unlock()
}

// workerExit decrements the active-worker count. The last worker out flags
// the job as partially unrecoverable when tasks remain and the user did not
// ask to stop, so the job is reported, never silently hung.
func (jc *jobContext) workerExit() {
	if jc.active.Add(-1) == 0 && jc.queue.Len() > 0 && !jc.userRequested.Load() {
		jc.exhausted.Store(true)
	}
}

// reportProgress delivers the latest processed count to the sink. Calls are
// serialized and deduplicated so the sink only ever observes a non-decreasing
// completed count; a slow or panicking sink never aborts the job.
func (jc *jobContext) reportProgress() {
	if jc.progress == nil {
		return
	}
	jc.progressMu.Lock()
	defer jc.progressMu.Unlock()

	v := jc.processed.Load()
	if v <= jc.lastReported {
		return
	}
	jc.lastReported = v

	defer func() {
		if r := recover(); r != nil {
			jc.logger.Error("progress sink panicked", slog.Any("panic", r))
		}
	}()
	jc.progress(int(v), jc.total)
}

func (jc *jobContext) result() JobResult {
	jc.mu.Lock()
	purchases := append([]domain.PurchaseRecord(nil), jc.purchases...)
	jc.mu.Unlock()

	return JobResult{
		SuccessCount:        int(jc.success.Load()),
		FailedCount:         int(jc.failed.Load()),
		Purchases:           purchases,
		AllWorkersExhausted: jc.exhausted.Load(),
		Cancelled:           jc.cancelled.Load(),
	}
}
