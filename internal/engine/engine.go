// Package engine implements the bulk purchase orchestration core: a bounded
// pool of worker sessions drains a shared queue of purchase tasks, sharing a
// scarce pool of one-time backup codes, surviving session crashes without
// duplicating charges, and guaranteeing that every confirmed transaction is
// durably recorded before any resource is released.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/pkg/telemetry"
)

// Session is one isolated automation session bound to a single worker.
type Session interface {
	// Login authenticates the underlying storefront account. This is separate
	// from the per-session one-time backup code.
	Login(ctx context.Context) error
	// Alive probes whether the session can still be driven.
	Alive() bool
	Close()
}

// SessionFactory launches a fresh Session for the given worker.
type SessionFactory func(ctx context.Context, workerID string) (Session, error)

// Executor drives one purchase attempt end-to-end. It hides every
// site-specific detail; the engine only cares about the returned outcome and
// the stage it reached. credential is empty when the session already answered
// its verification challenge.
type Executor interface {
	Attempt(ctx context.Context, sess Session, task domain.Task, credential string) domain.Outcome
}

// CredentialStore hands out and burns one-time backup codes.
type CredentialStore interface {
	FetchActive(ctx context.Context, accountID string) ([]domain.Credential, error)
	// MarkConsumed burns codes atomically; it fails when another job claimed
	// any of them first.
	MarkConsumed(ctx context.Context, ids []int64) error
}

// Recorder persists job outcomes. Writes issued through the save tracker must
// complete before Run returns.
type Recorder interface {
	RecordPurchase(ctx context.Context, rec *domain.PurchaseRecord) error
	IncrementCompleted(ctx context.Context, orderID string) error
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// ProgressFunc receives the running completed count. It is called at least
// once per task resolution with a non-decreasing completed value.
type ProgressFunc func(completed, total int)

// JobSpec describes one bulk purchase job.
type JobSpec struct {
	OrderID   string
	AccountID string
	// TaskCount is how many cards/codes to acquire.
	TaskCount int
}

// JobResult summarizes a finished job so the caller can report
// "N of M completed" instead of failing opaquely.
type JobResult struct {
	SuccessCount int
	FailedCount  int
	Purchases    []domain.PurchaseRecord
	// AllWorkersExhausted is set when every worker stopped with tasks still
	// queued and the user never asked to cancel.
	AllWorkersExhausted bool
	Cancelled           bool
}

// ManualReviewCount returns how many purchases need a human to resolve them.
func (r JobResult) ManualReviewCount() int {
	n := 0
	for _, p := range r.Purchases {
		if p.RequiresManualReview {
			n++
		}
	}
	return n
}

const (
	defaultMaxWorkers      = 10
	defaultLaunchAttempts  = 3
	defaultLaunchBaseDelay = 2 * time.Second
	defaultStaggerStep     = 1500 * time.Millisecond
	defaultStaggerJitter   = 500 * time.Millisecond
	defaultSaveTimeout     = 30 * time.Second
)

// Orchestrator runs bulk purchase jobs.
type Orchestrator struct {
	executor Executor
	sessions SessionFactory
	creds    CredentialStore
	recorder Recorder
	progress ProgressFunc
	logger   *slog.Logger

	maxWorkers      int
	launchAttempts  int
	launchBaseDelay time.Duration
	staggerStep     time.Duration
	staggerJitter   time.Duration
	saveTimeout     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option    { return func(o *Orchestrator) { o.logger = l } }
func WithMaxWorkers(n int) Option         { return func(o *Orchestrator) { o.maxWorkers = n } }
func WithProgress(p ProgressFunc) Option  { return func(o *Orchestrator) { o.progress = p } }
func WithSaveTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.saveTimeout = d }
}

// WithLaunchRetry bounds session launch and login attempts.
func WithLaunchRetry(attempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.launchAttempts = attempts
		o.launchBaseDelay = baseDelay
	}
}

// WithStagger spaces worker starts so the pool does not hit the storefront as
// a thundering herd.
func WithStagger(step, jitter time.Duration) Option {
	return func(o *Orchestrator) {
		o.staggerStep = step
		o.staggerJitter = jitter
	}
}

// New constructs an Orchestrator with the given collaborators and options.
func New(executor Executor, sessions SessionFactory, creds CredentialStore, recorder Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor:        executor,
		sessions:        sessions,
		creds:           creds,
		recorder:        recorder,
		logger:          slog.Default(),
		maxWorkers:      defaultMaxWorkers,
		launchAttempts:  defaultLaunchAttempts,
		launchBaseDelay: defaultLaunchBaseDelay,
		staggerStep:     defaultStaggerStep,
		staggerJitter:   defaultStaggerJitter,
		saveTimeout:     defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one bulk purchase job and blocks until every worker has exited
// and every durable save has settled. Cancelling ctx stops the job
// cooperatively: in-flight attempts are resolved and persisted first.
func (o *Orchestrator) Run(ctx context.Context, spec JobSpec) (JobResult, error) {
	log := o.logger.With(
		slog.String("order_id", spec.OrderID),
		slog.String("account_id", spec.AccountID),
	)

	if spec.TaskCount <= 0 {
		return JobResult{}, nil
	}

	creds, err := o.reserveCredentials(ctx, spec)
	if err != nil {
		return JobResult{}, err
	}
	workerCount := len(creds)

	jc := newJobContext(spec, o.progress, NewSaveTracker(log, o.saveTimeout), log)

	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	if err := o.recorder.SetStatus(ctx, spec.OrderID, domain.OrderProcessing); err != nil {
		log.Error("failed to mark order processing", slog.String("error", err.Error()))
	}

	log.Info("job starting",
		slog.Int("tasks", spec.TaskCount),
		slog.Int("workers", workerCount),
	)

	// Relay caller cancellation into the cooperative flag the workers poll.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Warn("cancellation requested, stopping workers")
			jc.cancelByUser()
		case <-watchDone:
		}
	}()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		delay := time.Duration(i) * o.staggerStep
		if o.staggerJitter > 0 {
			delay += time.Duration(rnd.Int63n(int64(o.staggerJitter)))
		}
		w := &worker{
			id:         fmt.Sprintf("buyer-%d-%s", i+1, uuid.New().String()[:8]),
			cred:       creds[i],
			virgin:     true,
			jc:         jc,
			o:          o,
			startDelay: delay,
			logger:     log.With(slog.String("worker_id", fmt.Sprintf("buyer-%d", i+1))),
		}
		jc.active.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()
	close(watchDone)

	// Absolute invariant: every pending durable save settles before any
	// resource is released, cancellation and teardown included.
	saveErrs := jc.saves.Drain()
	if len(saveErrs) > 0 {
		log.Error("durable saves finished with failures", slog.Int("failed", len(saveErrs)))
	}

	result := jc.result()
	o.finishOrder(spec.OrderID, jc, result, log)

	log.Info("job finished",
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("manual_review", result.ManualReviewCount()),
		slog.Bool("exhausted", result.AllWorkersExhausted),
		slog.Bool("cancelled", result.Cancelled),
	)
	return result, nil
}

// finishOrder writes the terminal order status. It runs on a fresh context:
// the job context may already be cancelled.
func (o *Orchestrator) finishOrder(orderID string, jc *jobContext, result JobResult, log *slog.Logger) {
	final := domain.OrderCompleted
	switch {
	case jc.userRequested.Load():
		final = domain.OrderCancelled
	case result.AllWorkersExhausted || result.Cancelled:
		final = domain.OrderPartial
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.saveTimeout)
	defer cancel()
	if err := o.recorder.SetStatus(ctx, orderID, final); err != nil {
		log.Error("failed to write final order status",
			slog.String("status", string(final)),
			slog.String("error", err.Error()),
		)
	}
}
