package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_Ordering(t *testing.T) {
	assert.True(t, StageIdle < StageNavigating)
	assert.True(t, StageSelectingPayment < StageSubmittingCheckout)
	assert.True(t, StageSubmittingCheckout < StageVerifyingSecondFactor)
	assert.True(t, StageExtracting < StageDone)
}

func TestStage_PastCommitPoint(t *testing.T) {
	before := []Stage{StageIdle, StageNavigating, StageSelectingItem, StageSelectingPayment}
	for _, s := range before {
		assert.False(t, s.PastCommitPoint(), "%s is before checkout submission", s)
	}

	after := []Stage{StageSubmittingCheckout, StageVerifyingSecondFactor, StageConfirmed, StageExtracting, StageDone}
	for _, s := range after {
		assert.True(t, s.PastCommitPoint(), "%s is at or past checkout submission", s)
	}
}

func TestOutcome_ReachedStage(t *testing.T) {
	assert.Equal(t, StageDone, Success{TransactionID: "T1"}.ReachedStage())
	assert.Equal(t, StageSelectingPayment, InsufficientFunds{}.ReachedStage())
	assert.Equal(t, StageNavigating, InvalidCredential{Stage: StageNavigating}.ReachedStage())
	assert.Equal(t, StageConfirmed, CredentialExpired{Stage: StageConfirmed}.ReachedStage())
	assert.Equal(t, StageSubmittingCheckout, Cancelled{Stage: StageSubmittingCheckout}.ReachedStage())
	assert.Equal(t, StageExtracting,
		TransientFailure{Err: errors.New("boom"), Stage: StageExtracting}.ReachedStage())
}

func TestKind_CoversEveryOutcome(t *testing.T) {
	cases := map[string]Outcome{
		"success":            Success{},
		"insufficient_funds": InsufficientFunds{},
		"invalid_credential": InvalidCredential{},
		"credential_expired": CredentialExpired{},
		"cancelled":          Cancelled{},
		"transient_failure":  TransientFailure{},
	}
	for want, outcome := range cases {
		assert.Equal(t, want, Kind(outcome))
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, OrderPending.IsTerminal())
	assert.False(t, OrderProcessing.IsTerminal())
	assert.True(t, OrderCompleted.IsTerminal())
	assert.True(t, OrderPartial.IsTerminal())
	assert.True(t, OrderCancelled.IsTerminal())
}
