package domain

import "fmt"

// InsufficientCredentialsError is returned when a job cannot reserve even a
// single active backup code for the account.
type InsufficientCredentialsError struct {
	AccountID string
}

func (e *InsufficientCredentialsError) Error() string {
	return fmt.Sprintf("no active backup codes for account %s", e.AccountID)
}

// CredentialConflictError is returned when reserving backup codes raced with
// another job and fewer codes were claimed than requested.
type CredentialConflictError struct {
	Requested int
	Claimed   int
}

func (e *CredentialConflictError) Error() string {
	return fmt.Sprintf("requested %d backup codes but claimed %d: lost race with a concurrent job", e.Requested, e.Claimed)
}

// OrderNotFoundError is returned when an order ID does not exist.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order not found: %s", e.OrderID)
}
