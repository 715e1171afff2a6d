package domain

import "time"

// Task is one unit of purchase work: the ordinal (1..N) of the card/code the
// job still has to acquire. Tasks are created by filling the queue at job
// start, consumed when popped, and pushed back to the front of the queue when
// a retry is safe.
type Task int

// OrderStatus represents the states a bulk purchase order can be in.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderPartial    OrderStatus = "PARTIAL"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderPartial || s == OrderCancelled
}

// Order is the aggregate a job runs against. The engine only touches its
// status and completed count; creation and listing belong to the caller.
type Order struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	Quantity       int         `json:"quantity"`
	CompletedCount int         `json:"completed_count"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// PurchaseRecord is the durable trace of one resolved attempt. Every attempt
// that passed the commit point produces exactly one record, whatever else
// happens; records with RequiresManualReview set must be surfaced to a human
// because money may have been spent with an unknown result.
type PurchaseRecord struct {
	ID                   string    `json:"id"`
	OrderID              string    `json:"order_id"`
	Card                 int       `json:"card"`
	Result               string    `json:"result"`
	TransactionID        string    `json:"transaction_id,omitempty"`
	PIN                  string    `json:"pin,omitempty"`
	Serial               string    `json:"serial,omitempty"`
	Stage                Stage     `json:"stage"`
	Error                string    `json:"error,omitempty"`
	RequiresManualReview bool      `json:"requires_manual_review"`
	WorkerID             string    `json:"worker_id"`
	RecordedAt           time.Time `json:"recorded_at"`
}
