package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledrokaya2/goldpin/pkg/telemetry"
)

// SaveTracker collects every in-flight persistence write of a job and lets
// the orchestrator wait for all of them before releasing resources. A
// purchase that reached the commit point has already spent real money; losing
// its record on teardown is the single failure mode this type exists to
// prevent.
type SaveTracker struct {
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
	mu sync.Mutex
	// errs collects failures with isolation: one failed save never blocks or
	// loses the others.
	errs []error
}

// NewSaveTracker returns a tracker whose saves are individually bounded by
// timeout.
func NewSaveTracker(logger *slog.Logger, timeout time.Duration) *SaveTracker {
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	return &SaveTracker{logger: logger, timeout: timeout}
}

// Track runs a persistence write in the background. The write gets its own
// detached context: job cancellation or process teardown never aborts a
// durable save mid-flight.
func (t *SaveTracker) Track(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	telemetry.SavesPending.Inc()
	go func() {
		defer t.wg.Done()
		defer telemetry.SavesPending.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			telemetry.SaveFailures.Inc()
			t.logger.Error("durable save failed",
				slog.String("save", name),
				slog.String("error", err.Error()),
			)
			t.mu.Lock()
			t.errs = append(t.errs, fmt.Errorf("%s: %w", name, err))
			t.mu.Unlock()
		}
	}()
}

// Drain blocks until every tracked write has settled and returns the
// failures. Each save carries its own timeout, so Drain always terminates.
func (t *SaveTracker) Drain() []error {
	t.wg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errs...)
}
