package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/internal/engine"
	"github.com/khaledrokaya2/goldpin/internal/events"
	"github.com/khaledrokaya2/goldpin/internal/postgres"
	redisstore "github.com/khaledrokaya2/goldpin/internal/redis"
)

// Runner wires one bulk purchase job end to end: it loads the order, watches
// the external cancel flag, mirrors progress to Redis and Kafka, and hands the
// actual buying to the engine.
type Runner struct {
	repo     postgres.OrderRepository
	creds    engine.CredentialStore
	progress redisstore.ProgressStore
	events   events.Publisher
	sessions engine.SessionFactory
	executor engine.Executor

	cancelPoll time.Duration
	engineOpts []engine.Option
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *slog.Logger) Option      { return func(r *Runner) { r.logger = l } }
func WithCancelPoll(d time.Duration) Option { return func(r *Runner) { r.cancelPoll = d } }
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// NewRunner constructs a Runner with the given dependencies and options.
func NewRunner(
	repo postgres.OrderRepository,
	creds engine.CredentialStore,
	progress redisstore.ProgressStore,
	publisher events.Publisher,
	sessions engine.SessionFactory,
	executor engine.Executor,
	opts ...Option,
) *Runner {
	r := &Runner{
		repo:       repo,
		creds:      creds,
		progress:   progress,
		events:     publisher,
		sessions:   sessions,
		executor:   executor,
		cancelPoll: 2 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the order with the given ID and blocks until every task is
// resolved and every save has landed. Cancelling ctx (or setting the Redis
// cancel flag) stops the job cooperatively; in-flight attempts still finish.
func (r *Runner) Run(ctx context.Context, orderID string) (engine.JobResult, error) {
	ctx, span := otel.Tracer("runner").Start(ctx, "runner.run_order")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := r.repo.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return engine.JobResult{}, fmt.Errorf("load order: %w", err)
	}
	if order.Status.IsTerminal() {
		return engine.JobResult{}, fmt.Errorf("order %s is already %s", orderID, order.Status)
	}
	remaining := order.Quantity - order.CompletedCount
	if remaining < 0 {
		remaining = 0
	}

	log := r.logger.With(
		slog.String("order_id", order.ID),
		slog.String("account_id", order.AccountID),
		slog.Int("quantity", order.Quantity),
		slog.Int("remaining", remaining),
	)

	// A stale cancel flag from a previous run would kill the job instantly.
	if err := r.progress.ClearCancel(ctx, order.ID); err != nil {
		log.Warn("failed to clear cancel flag", slog.String("error", err.Error()))
	}

	r.publish(ctx, events.JobEvent{
		OrderID: order.ID,
		Type:    events.EventJobStarted,
		Total:   remaining,
		At:      time.Now().UTC(),
	}, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.watchCancel(runCtx, cancel, order.ID, log)

	var lastCompleted atomic.Int64
	sink := func(completed, total int) {
		lastCompleted.Store(int64(completed))
		// Best effort: a dropped progress tick never fails the job.
		pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pcancel()
		if err := r.progress.SetProgress(pctx, order.ID, redisstore.Progress{
			Completed: completed,
			Total:     total,
		}); err != nil {
			log.Warn("failed to mirror progress", slog.String("error", err.Error()))
		}
		r.publish(pctx, events.JobEvent{
			OrderID:   order.ID,
			Type:      events.EventJobProgress,
			Completed: completed,
			Total:     total,
			At:        time.Now().UTC(),
		}, log)
	}

	orch := engine.New(r.executor, r.sessions, r.creds, r.repo,
		append([]engine.Option{
			engine.WithLogger(r.logger),
			engine.WithProgress(sink),
		}, r.engineOpts...)...,
	)

	result, runErr := orch.Run(runCtx, engine.JobSpec{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		TaskCount: remaining,
	})
	cancel()

	// The job context may be cancelled here; the final event must still land.
	finCtx, finCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finCancel()

	if err := r.progress.SetProgress(finCtx, order.ID, redisstore.Progress{
		Completed: int(lastCompleted.Load()),
		Total:     remaining,
		Success:   result.SuccessCount,
		Failed:    result.FailedCount,
	}); err != nil {
		log.Warn("failed to write final progress", slog.String("error", err.Error()))
	}
	r.publish(finCtx, events.JobEvent{
		OrderID:             order.ID,
		Type:                events.EventJobCompleted,
		Completed:           int(lastCompleted.Load()),
		Total:               remaining,
		Success:             result.SuccessCount,
		Failed:              result.FailedCount,
		ManualReview:        result.ManualReviewCount(),
		AllWorkersExhausted: result.AllWorkersExhausted,
		Cancelled:           result.Cancelled,
		At:                  time.Now().UTC(),
	}, log)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "job failed")
		var insufficient *domain.InsufficientCredentialsError
		if errors.As(runErr, &insufficient) {
			log.Error("no backup codes left for account", slog.String("error", runErr.Error()))
		}
		return result, runErr
	}

	log.Info("job finished",
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("manual_review", result.ManualReviewCount()),
		slog.Bool("exhausted", result.AllWorkersExhausted),
		slog.Bool("cancelled", result.Cancelled),
	)
	return result, nil
}

// watchCancel polls the shared cancel flag so a Telegram bot or another
// process can stop the job without signalling this one.
func (r *Runner) watchCancel(ctx context.Context, cancel context.CancelFunc, orderID string, log *slog.Logger) {
	ticker := time.NewTicker(r.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := r.progress.CancelRequested(ctx, orderID)
			if err != nil {
				log.Warn("cancel flag check failed", slog.String("error", err.Error()))
				continue
			}
			if requested {
				log.Info("external cancel requested")
				cancel()
				return
			}
		}
	}
}

func (r *Runner) publish(ctx context.Context, event events.JobEvent, log *slog.Logger) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, event); err != nil {
		log.Warn("failed to publish job event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}
