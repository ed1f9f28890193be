/*
store.go - Persistence contracts for accounts, categories and transactions

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never talks to a driver directly; it receives a Store scoped to one
  unit of work from TxStore.WithTx.

KEY INTERFACES:
  AccountStore:     Account rows and RELATIVE balance adjustment
  CategoryStore:    Category rows (display metadata only)
  TransactionStore: Transaction records and listing projection
  TxStore:          Unit of work (all-or-nothing multi-table writes)

OWNERSHIP:
  Every lookup is scoped by UserID. A row owned by someone else is
  reported exactly like a missing row.

BALANCE WRITES:
  AdjustBalance applies a signed delta evaluated by the store itself
  (balance = balance + delta). There is no SetBalance: a read-modify-write
  from the application would lose concurrent updates.

IMPLEMENTATIONS:
  - store/sqlite: SQLite, UPDATE ... SET balance_minor = balance_minor + ?
  - ledger/store: In-memory for testing

SEE ALSO:
  - engine.go: The only caller of AdjustBalance
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// CreateAccount persists a new account with its opening balance.
	CreateAccount(ctx context.Context, a Account) error

	// GetAccount returns ErrAccountNotFound if missing or not owned.
	GetAccount(ctx context.Context, userID UserID, id AccountID) (Account, error)

	// ListAccounts returns the caller's accounts ordered by name.
	ListAccounts(ctx context.Context, userID UserID) ([]Account, error)

	// AllAccounts returns every account of every user. Used by the
	// reconciliation sweep only.
	AllAccounts(ctx context.Context) ([]Account, error)

	// DeleteAccount removes an account. Returns ErrAccountNotFound if missing.
	DeleteAccount(ctx context.Context, userID UserID, id AccountID) error

	// AdjustBalance adds delta to the balance atomically and sets UpdatedAt
	// to at. Returns ErrAccountNotFound if the account is missing or not owned.
	AdjustBalance(ctx context.Context, userID UserID, id AccountID, delta decimal.Decimal, at time.Time) error
}

// =============================================================================
// CATEGORY STORE
// =============================================================================

type CategoryStore interface {
	CreateCategory(ctx context.Context, c Category) error

	// GetCategory returns ErrCategoryNotFound if missing or not owned.
	GetCategory(ctx context.Context, userID UserID, id CategoryID) (Category, error)

	ListCategories(ctx context.Context, userID UserID) ([]Category, error)
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns ErrTransactionNotFound if missing or not owned.
	GetTransaction(ctx context.Context, userID UserID, id TransactionID) (Transaction, error)

	// UpdateTransaction overwrites amount, date, description and references.
	// Returns ErrTransactionNotFound if missing.
	UpdateTransaction(ctx context.Context, tx Transaction) error

	// DeleteTransaction removes the record. Returns ErrTransactionNotFound if missing.
	DeleteTransaction(ctx context.Context, userID UserID, id TransactionID) error

	// ListTransactions returns denormalized views, newest first by Date.
	ListTransactions(ctx context.Context, userID UserID, filter Filter) ([]TransactionView, error)

	// TransactionsForAccount returns every transaction touching the account,
	// on either side of a transfer.
	TransactionsForAccount(ctx context.Context, userID UserID, id AccountID) ([]Transaction, error)
}

// Store groups every capability the engine needs.
type Store interface {
	AccountStore
	CategoryStore
	TransactionStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with unit-of-work support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error (or panics), every write made through the
	// Store passed to fn is rolled back. If fn returns nil, it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
