package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/internal/engine"
)

// DryRunExecutor walks every purchase stage with realistic pacing but never
// touches the checkout form, so a full job can be rehearsed without spending
// money. The live site executor is provided by the embedding application.
type DryRunExecutor struct {
	// StageDelay paces each simulated stage. Zero means no delay.
	StageDelay time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

var _ engine.Executor = (*DryRunExecutor)(nil)

func NewDryRunExecutor(stageDelay time.Duration) *DryRunExecutor {
	return &DryRunExecutor{
		StageDelay: stageDelay,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attempt simulates one purchase. Cancellation is honoured between stages,
// reporting the stage reached exactly like the live flow would.
func (e *DryRunExecutor) Attempt(ctx context.Context, _ engine.Session, task domain.Task, credential string) domain.Outcome {
	stages := []domain.Stage{
		domain.StageNavigating,
		domain.StageSelectingItem,
		domain.StageSelectingPayment,
		domain.StageSubmittingCheckout,
		domain.StageVerifyingSecondFactor,
		domain.StageConfirmed,
		domain.StageExtracting,
	}

	for _, stage := range stages {
		if stage == domain.StageVerifyingSecondFactor && credential == "" {
			// An already-verified session skips the challenge.
			continue
		}
		select {
		case <-ctx.Done():
			out := domain.Cancelled{Stage: stage}
			if stage.PastCommitPoint() {
				out.TransactionID = e.transactionID(task)
			}
			return out
		case <-time.After(e.StageDelay):
		}
	}

	return domain.Success{
		TransactionID: e.transactionID(task),
		PIN:           e.digits(16),
		Serial:        e.digits(10),
	}
}

func (e *DryRunExecutor) transactionID(task domain.Task) string {
	return fmt.Sprintf("DRY-%d-%s", int(task), uuid.New().String()[:8])
}

func (e *DryRunExecutor) digits(n int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('0' + e.rand.Intn(10))
	}
	return string(out)
}
