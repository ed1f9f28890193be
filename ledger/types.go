/*
Package ledger provides the transaction ledger and balance-mutation engine.

PURPOSE:
  Keeps per-account balances consistent as income, expense and transfer
  records are created, edited and deleted. Every mutation runs inside a
  single unit of work against the store: either the record write and all
  balance adjustments land, or none of them do.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a balance holder owned by one user
  - Transaction: an income, expense or transfer record
  - Category: display metadata joined into transaction listings
  - Money: decimal.Decimal at a fixed scale of 2 fraction digits

DESIGN PRINCIPLES:
  1. Balance is authoritative: Account.Balance always equals the opening
     balance plus the signed effects of every existing transaction.
  2. Precision: decimal.Decimal, never float64.
  3. Type Safety: distinct ID types so accounts and transactions can't mix.
  4. Single writer: only the Engine adjusts balances.

SEE ALSO:
  - effect.go: Signed postings derived from a transaction
  - engine.go: Create/Update/Delete protocol
  - store.go: Persistence contracts
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fraction digits money is kept at.
const Scale int32 = 2

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type AccountID string
type TransactionID string
type CategoryID string

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type Type string

const (
	TypeIncome   Type = "income"
	TypeExpense  Type = "expense"
	TypeTransfer Type = "transfer"
)

// Valid reports whether t is one of the three ledger types.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID     AccountID
	UserID UserID
	Name   string
	Type   string // bank, cash, wallet, card, investment (free-form)

	// Balance is the running total. Written only via AccountStore.AdjustBalance.
	Balance decimal.Decimal

	// OpeningBalance is the balance the account was created with.
	OpeningBalance decimal.Decimal

	Color string
	Icon  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CATEGORY
// =============================================================================

type Category struct {
	ID        CategoryID
	UserID    UserID
	Name      string
	Kind      Type // income or expense
	Color     string
	Icon      string
	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID          TransactionID
	UserID      UserID
	Type        Type
	Amount      decimal.Decimal // always positive
	Date        time.Time
	Description string

	// CategoryID is nil for transfers.
	CategoryID *CategoryID

	// AccountID is always affected. For a transfer it is the source.
	AccountID AccountID

	// ToAccountID is the transfer destination, empty otherwise.
	ToAccountID AccountID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// normalize enforces the mutually exclusive references of each type.
func (t *Transaction) normalize() {
	if t.Type == TypeTransfer {
		t.CategoryID = nil
		return
	}
	t.ToAccountID = ""
}

// Touches reports whether the transaction affects accountID.
func (t Transaction) Touches(accountID AccountID) bool {
	return t.AccountID == accountID || (t.Type == TypeTransfer && t.ToAccountID == accountID)
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

// TransactionView is a transaction joined with display fields for listings.
type TransactionView struct {
	Transaction

	CategoryName  string
	CategoryColor string
	CategoryIcon  string
	AccountName   string
	ToAccountName string
}

// Filter narrows ListTransactions. Zero values mean "any".
type Filter struct {
	Type Type

	// AccountID matches either side of a transfer.
	AccountID AccountID
}

// Matches reports whether tx passes the filter.
func (f Filter) Matches(tx Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.AccountID != "" && !tx.Touches(f.AccountID) {
		return false
	}
	return true
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

var (
	// MaxAmount bounds a single transaction amount and an opening balance.
	MaxAmount = decimal.New(1, 13)

	// MaxBalance bounds the magnitude of a running balance. Its minor-unit
	// value stays well inside int64, so sums of two in-range values cannot
	// overflow a 64-bit column.
	MaxBalance = decimal.New(1, 15)
)

// ToMinor converts d to integer minor units at Scale. It fails when d has
// more than Scale fraction digits or does not fit in an int64.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(Scale)
	if !shifted.IsInteger() {
		return 0, &AmountError{Value: d.String(), Reason: fmt.Sprintf("at most %d decimal places", Scale)}
	}
	minor := shifted.BigInt()
	if !minor.IsInt64() {
		return 0, &AmountError{Value: d.String(), Reason: "out of range"}
	}
	return minor.Int64(), nil
}

// FromMinor converts integer minor units back to a decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &AmountError{Value: s, Reason: "not a number"}
	}
	return d, nil
}
