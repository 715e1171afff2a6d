package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledrokaya2/goldpin/internal/domain"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeSession struct {
	workerID string
	alive    atomic.Bool
	loginErr error
	closed   atomic.Bool
}

func (s *fakeSession) Login(_ context.Context) error { return s.loginErr }
func (s *fakeSession) Alive() bool                   { return s.alive.Load() }
func (s *fakeSession) Close()                        { s.closed.Store(true) }

type fakeFactory struct {
	mu       sync.Mutex
	launches int
	failures int // first N launches fail
	loginErr error
	sessions []*fakeSession
}

func (f *fakeFactory) New(_ context.Context, workerID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.launches <= f.failures {
		return nil, errors.New("no browser slot")
	}
	s := &fakeSession{workerID: workerID, loginErr: f.loginErr}
	s.alive.Store(true)
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

type attemptCall struct {
	task       domain.Task
	credential string
}

// scriptExecutor returns scripted outcomes per call, in call order. Calls past
// the script fall back to successes (or the fallback func when set). Scripted
// steps receive the session so a test can kill it mid-flight.
type scriptExecutor struct {
	mu       sync.Mutex
	script   []func(sess Session) domain.Outcome
	fallback func(call int, sess Session) domain.Outcome
	calls    []attemptCall
}

func (e *scriptExecutor) Attempt(_ context.Context, sess Session, task domain.Task, credential string) domain.Outcome {
	e.mu.Lock()
	n := len(e.calls)
	e.calls = append(e.calls, attemptCall{task: task, credential: credential})
	var step func(Session) domain.Outcome
	if n < len(e.script) {
		step = e.script[n]
	}
	e.mu.Unlock()

	if step != nil {
		return step(sess)
	}
	if e.fallback != nil {
		return e.fallback(n, sess)
	}
	return domain.Success{
		TransactionID: fmt.Sprintf("TX-%04d", n+1),
		PIN:           "1111-2222-3333",
		Serial:        fmt.Sprintf("SN-%04d", n+1),
	}
}

func (e *scriptExecutor) callLog() []attemptCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]attemptCall(nil), e.calls...)
}

type fakeCreds struct {
	mu       sync.Mutex
	active   []domain.Credential
	consumed []int64
	fetchErr error
	markErr  error
	fetches  int
}

func newFakeCreds(codes ...string) *fakeCreds {
	f := &fakeCreds{}
	for i, code := range codes {
		f.active = append(f.active, domain.Credential{ID: int64(i + 1), Code: code})
	}
	return f
}

func (f *fakeCreds) FetchActive(_ context.Context, _ string) ([]domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Credential(nil), f.active...), nil
}

func (f *fakeCreds) MarkConsumed(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.consumed = append(f.consumed, ids...)
	return nil
}

type fakeRecorder struct {
	mu            sync.Mutex
	purchases     []domain.PurchaseRecord
	increments    int
	statuses      []domain.OrderStatus
	recordErrCard int // card whose RecordPurchase fails; 0 = never
}

func (r *fakeRecorder) RecordPurchase(_ context.Context, rec *domain.PurchaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErrCard != 0 && rec.Card == r.recordErrCard {
		return errors.New("postgres unavailable")
	}
	r.purchases = append(r.purchases, *rec)
	return nil
}

func (r *fakeRecorder) IncrementCompleted(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments++
	return nil
}

func (r *fakeRecorder) SetStatus(_ context.Context, _ string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeRecorder) finalStatus() domain.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *fakeRecorder) savedPurchases() []domain.PurchaseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PurchaseRecord(nil), r.purchases...)
}

// Compile-time interface checks.
var (
	_ Executor        = (*scriptExecutor)(nil)
	_ CredentialStore = (*fakeCreds)(nil)
	_ Recorder        = (*fakeRecorder)(nil)
)

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestOrchestrator(exec Executor, f *fakeFactory, creds *fakeCreds, rec *fakeRecorder, opts ...Option) *Orchestrator {
	base := []Option{
		WithLogger(slog.Default()),
		WithStagger(0, 0),
		WithLaunchRetry(1, time.Millisecond),
		WithSaveTimeout(2 * time.Second),
	}
	return New(exec, f.New, creds, rec, append(base, opts...)...)
}

func run(t *testing.T, o *Orchestrator, tasks int) JobResult {
	t.Helper()
	result, err := o.Run(context.Background(), JobSpec{
		OrderID:   "order-1",
		AccountID: "acct-1",
		TaskCount: tasks,
	})
	require.NoError(t, err)
	return result
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestRun_AllTasksSucceed_SingleCode(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.False(t, result.AllWorkersExhausted)
	assert.False(t, result.Cancelled)
	assert.Len(t, result.Purchases, 3)

	// The one-time code rides along on the first attempt only.
	calls := exec.callLog()
	require.Len(t, calls, 3)
	assert.Equal(t, "CODE-A", calls[0].credential)
	assert.Empty(t, calls[1].credential)
	assert.Empty(t, calls[2].credential)

	assert.Len(t, rec.savedPurchases(), 3)
	assert.Equal(t, 3, rec.increments)
	assert.Equal(t, domain.OrderCompleted, rec.finalStatus())
	assert.Equal(t, []int64{1}, creds.consumed, "exactly the reserved code is burned")
	assert.Equal(t, 1, factory.launchCount())
}

func TestRun_ZeroTasks_NoWork(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 0)

	assert.Equal(t, JobResult{}, result)
	assert.Equal(t, 0, creds.fetches, "no codes touched for an empty job")
	assert.Empty(t, rec.statuses)
	assert.Equal(t, 0, factory.launchCount())
}

func TestRun_NoCredentials_FailsBeforeAnySession(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds()
	rec := &fakeRecorder{}

	o := newTestOrchestrator(exec, factory, creds, rec)
	_, err := o.Run(context.Background(), JobSpec{OrderID: "order-1", AccountID: "acct-1", TaskCount: 3})

	var insufficient *domain.InsufficientCredentialsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "acct-1", insufficient.AccountID)
	assert.Equal(t, 0, factory.launchCount())
	assert.Empty(t, rec.statuses, "order must not be marked processing")
}

func TestRun_PoolBoundedByMinOfTasksWorkersCodes(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("A", "B", "C", "D")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec, WithMaxWorkers(2)), 5)

	assert.Equal(t, 5, result.SuccessCount)
	assert.Equal(t, []int64{1, 2}, creds.consumed, "only min(tasks, maxWorkers, codes) codes reserved")
	assert.Equal(t, 2, factory.launchCount())
}

func TestRun_VirginSessionDies_RelaunchedWithCode(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(sess Session) domain.Outcome {
				// Browser crashes before anything was bought.
				sess.(*fakeSession).alive.Store(false)
				return domain.TransientFailure{Err: errors.New("page crashed"), Stage: domain.StageNavigating}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 2)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 2, factory.launchCount(), "virgin worker must relaunch its session")

	// The unused code is offered again to the fresh session.
	calls := exec.callLog()
	require.Len(t, calls, 2)
	assert.Equal(t, "CODE-A", calls[0].credential)
	assert.Equal(t, "CODE-A", calls[1].credential)
}

func TestRun_SessionDiesAfterCodeConsumed_NoRelaunch(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(sess Session) domain.Outcome {
				sess.(*fakeSession).alive.Store(false)
				return domain.Success{TransactionID: "TX-1", PIN: "1111", Serial: "SN-1"}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 2)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, factory.launchCount(), "a consumed code cannot answer a fresh challenge")
	assert.True(t, result.AllWorkersExhausted, "task 2 is stuck with no workers left")
	assert.Equal(t, domain.OrderPartial, rec.finalStatus())
}

func TestRun_InsufficientFunds_StopsAllWorkers(t *testing.T) {
	exec := &scriptExecutor{
		fallback: func(_ int, _ Session) domain.Outcome { return domain.InsufficientFunds{} },
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("A", "B")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 4)

	assert.Equal(t, 0, result.SuccessCount)
	assert.True(t, result.Cancelled, "balance exhaustion is fatal for the whole job")
	assert.Equal(t, domain.OrderPartial, rec.finalStatus())
	// Each worker resolves at most the attempt it was in when the flag flipped.
	assert.LessOrEqual(t, len(exec.callLog()), 2)
}

func TestRun_InvalidCredentialBeforeCheckout_TaskRequeued(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.InvalidCredential{Stage: domain.StageSelectingItem}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount, "a requeued task is not resolved")
	assert.Empty(t, result.Purchases)
	assert.True(t, result.AllWorkersExhausted)
	assert.Equal(t, domain.OrderPartial, rec.finalStatus())
	assert.Len(t, exec.callLog(), 1, "the rejected session must not try again")
}

func TestRun_CredentialExpiredPastCheckout_Quarantined(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.CredentialExpired{Stage: domain.StageVerifyingSecondFactor}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 1)

	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.ManualReviewCount(), "money may be spent, a human must check")
	require.Len(t, result.Purchases, 1)
	assert.True(t, result.Purchases[0].RequiresManualReview)
	assert.Equal(t, domain.StageVerifyingSecondFactor, result.Purchases[0].Stage)
}

func TestRun_TransientFailurePastCheckout_NeverRetried(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.TransientFailure{
					Err:           errors.New("confirmation page never loaded"),
					Stage:         domain.StageConfirmed,
					TransactionID: "TX-LOST",
				}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 2)

	// Task 1 is quarantined, task 2 still succeeds on the same session.
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.ManualReviewCount())

	saved := rec.savedPurchases()
	require.Len(t, saved, 2)
	var quarantined *domain.PurchaseRecord
	for i := range saved {
		if saved[i].RequiresManualReview {
			quarantined = &saved[i]
		}
	}
	require.NotNil(t, quarantined, "the lost transaction must leave a durable record")
	assert.Equal(t, "TX-LOST", quarantined.TransactionID)
	assert.Equal(t, "confirmation page never loaded", quarantined.Error)
}

func TestRun_CancelledAfterCheckout_QuarantinedAndStops(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.Cancelled{TransactionID: "TX-9", Stage: domain.StageVerifyingSecondFactor}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.ManualReviewCount())
	require.Len(t, result.Purchases, 1)
	assert.Equal(t, "TX-9", result.Purchases[0].TransactionID)
	assert.Equal(t, domain.OrderCancelled, rec.finalStatus())
	assert.Len(t, exec.callLog(), 1)
}

func TestRun_CancelledDuringCheckout_NoTransactionID_StillQuarantined(t *testing.T) {
	// The cancel landed mid-submit, so no transaction ID ever came back.
	// The charge may still have gone through; the card must be quarantined,
	// not dropped.
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.Cancelled{Stage: domain.StageSubmittingCheckout}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.ManualReviewCount())
	require.Len(t, result.Purchases, 1)
	assert.Empty(t, result.Purchases[0].TransactionID)
	assert.True(t, result.Purchases[0].RequiresManualReview)
	assert.Equal(t, domain.OrderCancelled, rec.finalStatus())
}

func TestRun_CancelledBeforeCheckout_NothingRecorded(t *testing.T) {
	exec := &scriptExecutor{
		script: []func(Session) domain.Outcome{
			func(_ Session) domain.Outcome {
				return domain.Cancelled{Stage: domain.StageSelectingPayment}
			},
		},
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.FailedCount)
	assert.Empty(t, result.Purchases, "no money moved, nothing to record")
	assert.Equal(t, domain.OrderCancelled, rec.finalStatus())
}

func TestRun_ContextCancellation_Cooperative(t *testing.T) {
	exec := &scriptExecutor{}
	exec.fallback = func(_ int, _ Session) domain.Outcome {
		return domain.Cancelled{Stage: domain.StageNavigating}
	}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(exec, factory, creds, rec)
	result, err := o.Run(ctx, JobSpec{OrderID: "order-1", AccountID: "acct-1", TaskCount: 10})
	require.NoError(t, err, "cancellation is a result, not an error")

	assert.True(t, result.Cancelled)
	assert.Equal(t, domain.OrderCancelled, rec.finalStatus())
	assert.LessOrEqual(t, len(exec.callLog()), 1)
}

func TestRun_AllLaunchesFail_JobReportedNotHung(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{failures: 1 << 10}
	creds := newFakeCreds("A", "B")
	rec := &fakeRecorder{}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 4)

	assert.Equal(t, 0, result.SuccessCount)
	assert.True(t, result.AllWorkersExhausted)
	assert.Empty(t, exec.callLog())
	assert.Equal(t, domain.OrderPartial, rec.finalStatus())
	assert.Equal(t, []int64{1, 2}, creds.consumed, "codes stay burned even when no session starts")
}

func TestRun_SaveFailureIsolated_OthersStillLand(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{recordErrCard: 2}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec), 3)

	assert.Equal(t, 3, result.SuccessCount, "a failed save does not change the outcome")
	saved := rec.savedPurchases()
	assert.Len(t, saved, 2, "the other saves must land")
	for _, p := range saved {
		assert.NotEqual(t, 2, p.Card)
	}
}

func TestRun_ProgressMonotonicAcrossWorkers(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("A", "B", "C")
	rec := &fakeRecorder{}

	var mu sync.Mutex
	var reported []int
	progress := func(completed, total int) {
		mu.Lock()
		reported = append(reported, completed)
		mu.Unlock()
		assert.Equal(t, 6, total)
	}

	result := run(t, newTestOrchestrator(exec, factory, creds, rec, WithProgress(progress)), 6)

	assert.Equal(t, 6, result.SuccessCount)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reported)
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1], "completed counts must strictly increase")
	}
	assert.Equal(t, 6, reported[len(reported)-1])
}

func TestRun_PanickingProgressSink_DoesNotKillJob(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("CODE-A")
	rec := &fakeRecorder{}

	progress := func(_, _ int) { panic("bad sink") }

	result := run(t, newTestOrchestrator(exec, factory, creds, rec, WithProgress(progress)), 2)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, domain.OrderCompleted, rec.finalStatus())
}

func TestRun_SessionsClosedOnExit(t *testing.T) {
	exec := &scriptExecutor{}
	factory := &fakeFactory{}
	creds := newFakeCreds("A", "B")
	rec := &fakeRecorder{}

	run(t, newTestOrchestrator(exec, factory, creds, rec), 4)

	factory.mu.Lock()
	defer factory.mu.Unlock()
	require.NotEmpty(t, factory.sessions)
	for _, s := range factory.sessions {
		assert.True(t, s.closed.Load(), "worker %s must close its session", s.workerID)
	}
}
