/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place so the HTTP layer can map them to status
  codes without knowing engine internals.

ERROR CATEGORIES:
  1. Validation errors - caller-correctable, detected before any write
     (future date, invalid transfer, bad amount, type change)
  2. Lookup errors - transaction/account/category missing or not owned
  3. Store errors - any persistence failure; the unit of work is rolled back

USAGE:
  if errors.Is(err, ledger.ErrFutureDate) { ... }

  var fd *ledger.FutureDateError
  if errors.As(err, &fd) { fmt.Println(fd.Date) }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFutureDate is returned when a transaction is dated after "now".
	ErrFutureDate = errors.New("transaction date cannot be in the future")

	// ErrInvalidTransfer is returned when a transfer lacks a destination or
	// moves money from an account to itself.
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrInvalidAmount is returned when an amount is not a positive number
	// with at most Scale fraction digits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidType is returned for a type other than income, expense, transfer.
	ErrInvalidType = errors.New("invalid transaction type")

	// ErrInvalidInput is returned for missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTypeChange is returned when an update tries to switch the type.
	ErrTypeChange = errors.New("transaction type cannot be changed")

	// ErrTransactionNotFound is returned when a transaction doesn't exist or
	// isn't owned by the caller.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound is returned when a referenced account doesn't exist
	// or isn't owned by the caller.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCategoryNotFound is returned when a referenced category doesn't exist
	// or isn't owned by the caller.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrAccountInUse is returned when deleting an account that transactions
	// still reference.
	ErrAccountInUse = errors.New("account has transactions")

	// ErrStoreFailure marks any persistence error.
	ErrStoreFailure = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FutureDateError reports the rejected date and the clock reading it was
// compared against.
type FutureDateError struct {
	Date time.Time
	Now  time.Time
}

func (e *FutureDateError) Error() string {
	return fmt.Sprintf("transaction date cannot be in the future: %s is after %s",
		e.Date.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

func (e *FutureDateError) Unwrap() error {
	return ErrFutureDate
}

// InvalidTransferError reports the offending account pair.
type InvalidTransferError struct {
	AccountID   AccountID
	ToAccountID AccountID
}

func (e *InvalidTransferError) Error() string {
	if e.ToAccountID == "" {
		return "invalid transfer: destination account is required"
	}
	return fmt.Sprintf("invalid transfer: source and destination must differ (%s)", e.AccountID)
}

func (e *InvalidTransferError) Unwrap() error {
	return ErrInvalidTransfer
}

// AmountError reports why an amount was rejected.
type AmountError struct {
	Value  string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Value, e.Reason)
}

func (e *AmountError) Unwrap() error {
	return ErrInvalidAmount
}

// BalanceLimitError is returned when a mutation would push a balance past
// MaxBalance in either direction.
type BalanceLimitError struct {
	AccountID AccountID
	Balance   decimal.Decimal
}

func (e *BalanceLimitError) Error() string {
	return fmt.Sprintf("balance of account %s would become %s, limit is %s",
		e.AccountID, e.Balance.StringFixed(Scale), MaxBalance.StringFixed(Scale))
}

func (e *BalanceLimitError) Unwrap() error {
	return ErrInvalidAmount
}

// StoreError wraps a persistence failure with the step that failed.
// It matches both ErrStoreFailure and the underlying error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreFailure, e.Err}
}

// storeErr wraps err as a StoreError unless it already carries a ledger kind.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || IsConflict(err) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFutureDate) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrTypeChange) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// IsNotFound returns true if the addressed transaction is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAccountInUse)
}
