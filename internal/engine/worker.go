package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/pkg/retry"
	"github.com/khaledrokaya2/goldpin/pkg/telemetry"
)

// worker owns one session and one backup code for the duration of a job.
//
// virgin is true until the code has been consumed by a successful purchase;
// it governs whether a dead session may be relaunched (nothing external has
// happened yet) or must be abandoned (the one-time code cannot answer a fresh
// verification challenge).
//
// credSent tracks the current session only: a session is handed the non-empty
// code on at most one executor call. It resets when a virgin worker
// relaunches, because the new session gets its own verification challenge.
type worker struct {
	id         string
	cred       domain.Credential
	virgin     bool
	credSent   bool
	sess       Session
	jc         *jobContext
	o          *Orchestrator
	startDelay time.Duration
	logger     *slog.Logger
}

func (w *worker) run(ctx context.Context) {
	defer w.exit()

	telemetry.WorkersActive.Inc()
	defer telemetry.WorkersActive.Dec()

	if w.startDelay > 0 {
		select {
		case <-time.After(w.startDelay):
		case <-ctx.Done():
			return
		}
	}

	if !w.launch(ctx) {
		return
	}

	for {
		if w.jc.isCancelled() {
			w.logger.Info("job cancelled, worker stopping")
			return
		}

		if !w.sess.Alive() {
			if !w.recoverSession(ctx) {
				return
			}
		}

		task, ok := w.jc.queue.PopFront()
		if !ok {
			w.logger.Info("queue empty, worker done")
			return
		}

		outcome := w.attempt(ctx, task)
		if !w.resolve(ctx, task, outcome) {
			return
		}
	}
}

// launch starts a session and signs the account in, with bounded backoff. A
// worker that never gets a session exits without starting; its backup code
// stays burned regardless.
func (w *worker) launch(ctx context.Context) bool {
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: w.o.launchAttempts,
		BaseDelay:   w.o.launchBaseDelay,
		Jitter:      w.o.launchBaseDelay / 2,
		OnRetry: func(attempt int, err error) {
			w.logger.Warn("session launch failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		sess, err := w.o.sessions(ctx, w.id)
		if err != nil {
			return err
		}
		if err := sess.Login(ctx); err != nil {
			sess.Close()
			return fmt.Errorf("login: %w", err)
		}
		w.sess = sess
		return nil
	})
	if err != nil {
		w.logger.Error("worker never started", slog.String("error", err.Error()))
		return false
	}
	w.credSent = false
	return true
}

// recoverSession handles a dead session found at loop top. Relaunching is
// safe only while the backup code is unused.
func (w *worker) recoverSession(ctx context.Context) bool {
	if !w.virgin {
		w.logger.Warn("session died after backup code was consumed, stopping worker")
		return false
	}
	w.logger.Warn("virgin session died, relaunching")
	if w.sess != nil {
		w.sess.Close()
		w.sess = nil
	}
	telemetry.SessionRelaunches.Inc()
	return w.launch(ctx)
}

// attempt invokes the purchase executor for one task. The backup code rides
// along on the session's first call only; afterwards the already-verified
// session carries the authentication.
func (w *worker) attempt(ctx context.Context, task domain.Task) domain.Outcome {
	ctx, span := otel.Tracer("engine").Start(ctx, "engine.purchase_attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", w.jc.orderID),
		attribute.Int("card", int(task)),
		attribute.String("worker.id", w.id),
	)

	credential := ""
	if w.virgin && !w.credSent {
		credential = w.cred.Code
		w.credSent = true
	}

	start := time.Now()
	outcome := w.o.executor.Attempt(ctx, w.sess, task, credential)
	telemetry.AttemptDurationSeconds.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("outcome", domain.Kind(outcome)),
		attribute.String("stage", outcome.ReachedStage().String()),
	)
	return outcome
}

// resolve classifies an outcome and updates the job. It returns false when
// the worker must exit its loop.
func (w *worker) resolve(ctx context.Context, task domain.Task, outcome domain.Outcome) bool {
	log := w.logger.With(
		slog.Int("card", int(task)),
		slog.String("outcome", domain.Kind(outcome)),
	)

	switch oc := outcome.(type) {
	case domain.Success:
		// First success consumes the one-time code.
		w.virgin = false
		w.jc.success.Add(1)
		w.finish(task, outcome, false)
		log.Info("card purchased", slog.String("transaction_id", oc.TransactionID))
		return true

	case domain.InsufficientFunds:
		// Fatal for the whole job: no worker may start another purchase.
		log.Error("account balance exhausted, stopping all workers")
		w.jc.abort()
		w.jc.failed.Add(1)
		w.finish(task, outcome, false)
		return false

	case domain.InvalidCredential:
		w.quarantineOrRequeue(task, outcome, oc.Stage, log)
		return false

	case domain.CredentialExpired:
		w.quarantineOrRequeue(task, outcome, oc.Stage, log)
		return false

	case domain.Cancelled:
		w.jc.cancelByUser()
		if oc.TransactionID != "" || oc.Stage.PastCommitPoint() {
			// Checkout may have gone through even though the user gave up.
			w.jc.failed.Add(1)
			w.finish(task, outcome, true)
			log.Warn("cancelled at or after checkout, transaction quarantined for review",
				slog.String("transaction_id", oc.TransactionID),
				slog.String("stage", oc.Stage.String()))
		} else {
			w.requeue(task)
		}
		return false

	case domain.TransientFailure:
		review := oc.TransactionID != "" || oc.Stage.PastCommitPoint()
		w.jc.failed.Add(1)
		w.finish(task, outcome, review)
		if review {
			log.Error("failure at or past checkout, never retried",
				slog.String("transaction_id", oc.TransactionID),
				slog.String("stage", oc.Stage.String()),
			)
		} else {
			log.Warn("attempt failed", slog.String("error", errString(oc.Err)))
		}
		if !w.sess.Alive() {
			return w.recoverSession(ctx)
		}
		return true
	}

	// The outcome set is closed; reaching here means a new kind was added
	// without teaching the loop about it.
	log.Error("unhandled outcome kind, stopping worker")
	return false
}

// quarantineOrRequeue applies the commit-point rule for credential failures:
// at or past checkout the task is quarantined for manual review (a retry
// risks a duplicate charge); before checkout it goes back to the queue front
// for another worker. Either way this session cannot answer further
// verification challenges, so the caller exits the loop.
func (w *worker) quarantineOrRequeue(task domain.Task, outcome domain.Outcome, stage domain.Stage, log *slog.Logger) {
	if stage.PastCommitPoint() {
		w.jc.failed.Add(1)
		w.finish(task, outcome, true)
		log.Error("credential failure after checkout, card quarantined for review",
			slog.String("stage", stage.String()))
		return
	}
	w.requeue(task)
	log.Warn("credential failure before checkout, card returned to queue",
		slog.String("stage", stage.String()))
}

// finish resolves a task: it builds the durable record, bumps the counters,
// queues exactly one durable save, and reports progress.
func (w *worker) finish(task domain.Task, outcome domain.Outcome, review bool) {
	rec := w.buildRecord(task, outcome, review)
	w.jc.addRecord(rec)
	w.jc.processed.Add(1)

	telemetry.TasksResolved.WithLabelValues(domain.Kind(outcome)).Inc()
	if review {
		telemetry.ManualReviewTotal.Inc()
	}

	recorder := w.o.recorder
	orderID := w.jc.orderID
	w.jc.saves.Track(fmt.Sprintf("purchase %s card %d", orderID, int(task)), func(ctx context.Context) error {
		if err := recorder.RecordPurchase(ctx, &rec); err != nil {
			return err
		}
		return recorder.IncrementCompleted(ctx, orderID)
	})

	w.jc.reportProgress()
}

func (w *worker) buildRecord(task domain.Task, outcome domain.Outcome, review bool) domain.PurchaseRecord {
	rec := domain.PurchaseRecord{
		ID:                   uuid.New().String(),
		OrderID:              w.jc.orderID,
		Card:                 int(task),
		Result:               domain.Kind(outcome),
		Stage:                outcome.ReachedStage(),
		RequiresManualReview: review,
		WorkerID:             w.id,
		RecordedAt:           time.Now().UTC(),
	}
	switch oc := outcome.(type) {
	case domain.Success:
		rec.TransactionID = oc.TransactionID
		rec.PIN = oc.PIN
		rec.Serial = oc.Serial
	case domain.Cancelled:
		rec.TransactionID = oc.TransactionID
	case domain.TransientFailure:
		rec.TransactionID = oc.TransactionID
		rec.Error = errString(oc.Err)
	}
	return rec
}

func (w *worker) requeue(task domain.Task) {
	w.jc.queue.PushFront(task)
	telemetry.TasksRequeued.Inc()
}

// exit runs on every path out of the worker: the session is closed and the
// job's active-worker count drops.
func (w *worker) exit() {
	if w.sess != nil {
		w.sess.Close()
		w.sess = nil
	}
	w.jc.workerExit()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
