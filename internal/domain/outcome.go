package domain

// Stage identifies how far a purchase attempt got before it finished or
// failed. Stages are ordered: comparing two stages with < or >= is meaningful.
type Stage int

const (
	StageIdle Stage = iota
	StageNavigating
	StageSelectingItem
	StageSelectingPayment
	StageSubmittingCheckout
	StageVerifyingSecondFactor
	StageConfirmed
	StageExtracting
	StageDone
)

var stageNames = map[Stage]string{
	StageIdle:                  "IDLE",
	StageNavigating:            "NAVIGATING",
	StageSelectingItem:         "SELECTING_ITEM",
	StageSelectingPayment:      "SELECTING_PAYMENT",
	StageSubmittingCheckout:    "SUBMITTING_CHECKOUT",
	StageVerifyingSecondFactor: "VERIFYING_SECOND_FACTOR",
	StageConfirmed:             "CONFIRMED",
	StageExtracting:            "EXTRACTING",
	StageDone:                  "DONE",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// PastCommitPoint reports whether the storefront has very likely already
// registered a charge. Checkout submission is the point of no return: an
// attempt that got this far must never be retried automatically.
func (s Stage) PastCommitPoint() bool {
	return s >= StageSubmittingCheckout
}

// Outcome is the closed set of results a purchase attempt can produce.
// The worker loop switches exhaustively over the concrete types; business
// results never travel through error returns.
type Outcome interface {
	// ReachedStage is the furthest stage the attempt got to.
	ReachedStage() Stage

	attemptOutcome()
}

// Success carries the extracted code of a completed purchase.
type Success struct {
	TransactionID string
	PIN           string
	Serial        string
}

// InsufficientFunds means the account balance cannot cover another purchase.
// Fatal for the whole job: every worker must stop pulling tasks.
type InsufficientFunds struct{}

// InvalidCredential means the storefront rejected the one-time backup code.
// The session cannot answer further verification challenges.
type InvalidCredential struct {
	Stage Stage
}

// CredentialExpired means a second verification challenge appeared on a
// session whose code was already spent (the authenticated window elapsed).
type CredentialExpired struct {
	Stage Stage
}

// Cancelled is a caller-initiated abort. TransactionID is non-empty when the
// attempt had already passed the commit point, meaning money was spent even
// though the user gave up.
type Cancelled struct {
	TransactionID string
	Stage         Stage
}

// TransientFailure is any other failure. TransactionID is non-empty when a
// charge may have been registered before the failure.
type TransientFailure struct {
	Err           error
	Stage         Stage
	TransactionID string
}

func (Success) ReachedStage() Stage             { return StageDone }
func (InsufficientFunds) ReachedStage() Stage   { return StageSelectingPayment }
func (o InvalidCredential) ReachedStage() Stage { return o.Stage }
func (o CredentialExpired) ReachedStage() Stage { return o.Stage }
func (o Cancelled) ReachedStage() Stage         { return o.Stage }
func (o TransientFailure) ReachedStage() Stage  { return o.Stage }

func (Success) attemptOutcome()           {}
func (InsufficientFunds) attemptOutcome() {}
func (InvalidCredential) attemptOutcome() {}
func (CredentialExpired) attemptOutcome() {}
func (Cancelled) attemptOutcome()         {}
func (TransientFailure) attemptOutcome()  {}

// Kind returns a short label for an outcome, used in records, logs and
// metric labels.
func Kind(o Outcome) string {
	switch o.(type) {
	case Success:
		return "success"
	case InsufficientFunds:
		return "insufficient_funds"
	case InvalidCredential:
		return "invalid_credential"
	case CredentialExpired:
		return "credential_expired"
	case Cancelled:
		return "cancelled"
	case TransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}
