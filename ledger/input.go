/*
input.go - Typed mutation inputs and their validation

PURPOSE:
  Each mutation takes a typed input that is validated completely before
  the engine opens a unit of work. Nothing here touches the store.

VALIDATION ORDER:
  1. Type (create only; update reuses the stored type)
  2. Amount: positive, at most Scale fraction digits
  3. Date: not after clock.Now()
  4. Accounts: source required; transfers need a distinct destination

NORMALIZATION:
  Transfers never carry a category; income and expense never carry a
  destination account. Conflicting fields are dropped, not rejected.
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateInput is the request to record a new transaction.
type CreateInput struct {
	Type        Type
	Amount      decimal.Decimal
	Date        time.Time
	AccountID   AccountID
	ToAccountID AccountID // transfer only
	CategoryID  *CategoryID
	Description string
}

// UpdateInput is the request to edit a transaction. The stored type is
// kept; Type is optional and, when set, must equal the stored type.
type UpdateInput struct {
	Type        Type
	Amount      decimal.Decimal
	Date        time.Time
	AccountID   AccountID
	ToAccountID AccountID
	CategoryID  *CategoryID
	Description string
}

func (in CreateInput) validate(now time.Time) error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	return validateFields(in.Type, in.Amount, in.Date, in.AccountID, in.ToAccountID, now)
}

// validate checks an update against the stored type.
func (in UpdateInput) validate(stored Type, now time.Time) error {
	if in.Type != "" && in.Type != stored {
		return fmt.Errorf("%w: stored %s, requested %s", ErrTypeChange, stored, in.Type)
	}
	return validateFields(stored, in.Amount, in.Date, in.AccountID, in.ToAccountID, now)
}

// validateStateless runs the checks that don't need the stored record, so
// an update can fail fast before a unit of work is opened.
func (in UpdateInput) validateStateless(now time.Time) error {
	if in.Type != "" && !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if err := ValidateAmount(in.Amount); err != nil {
		return err
	}
	if err := ValidateDate(in.Date, now); err != nil {
		return err
	}
	if in.AccountID == "" {
		return fmt.Errorf("%w: accountId is required", ErrInvalidInput)
	}
	return nil
}

func validateFields(typ Type, amount decimal.Decimal, date time.Time, from, to AccountID, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if err := ValidateDate(date, now); err != nil {
		return err
	}
	if from == "" {
		return fmt.Errorf("%w: accountId is required", ErrInvalidInput)
	}
	if typ == TypeTransfer {
		if to == "" || to == from {
			return &InvalidTransferError{AccountID: from, ToAccountID: to}
		}
	}
	return nil
}

// ValidateAmount rejects non-positive amounts, amounts above MaxAmount and
// amounts finer than Scale.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &AmountError{Value: amount.String(), Reason: "must be greater than zero"}
	}
	if amount.GreaterThan(MaxAmount) {
		return &AmountError{Value: amount.String(), Reason: "must not exceed " + MaxAmount.StringFixed(Scale)}
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return &AmountError{Value: amount.String(), Reason: fmt.Sprintf("at most %d decimal places", Scale)}
	}
	return nil
}

// ValidateDate rejects dates strictly after now.
func ValidateDate(date, now time.Time) error {
	if date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if date.After(now) {
		return &FutureDateError{Date: date, Now: now}
	}
	return nil
}

func cleanDescription(s string) string {
	return strings.TrimSpace(s)
}

// AccountInput is the request to open an account.
type AccountInput struct {
	Name           string
	Type           string
	OpeningBalance decimal.Decimal
	Color          string
	Icon           string
}

func (in AccountInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}
	if !in.OpeningBalance.Equal(in.OpeningBalance.Truncate(Scale)) {
		return &AmountError{Value: in.OpeningBalance.String(), Reason: fmt.Sprintf("at most %d decimal places", Scale)}
	}
	if in.OpeningBalance.Abs().GreaterThan(MaxAmount) {
		return &AmountError{Value: in.OpeningBalance.String(), Reason: "opening balance must not exceed " + MaxAmount.StringFixed(Scale) + " in magnitude"}
	}
	return nil
}

// CategoryInput is the request to create a category.
type CategoryInput struct {
	Name  string
	Kind  Type
	Color string
	Icon  string
}

func (in CategoryInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: category name is required", ErrInvalidInput)
	}
	if in.Kind != TypeIncome && in.Kind != TypeExpense {
		return fmt.Errorf("%w: category kind must be income or expense", ErrInvalidInput)
	}
	return nil
}
