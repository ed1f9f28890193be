package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	t0 = time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.UTC)
	at = t0.Add(90 * time.Minute)
)

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccounts(t *testing.T, s *Store) {
	ctx := context.Background()
	for _, a := range []ledger.Account{
		{ID: "a", UserID: "u1", Name: "Checking", Type: "bank", Balance: decimal.NewFromInt(1000), OpeningBalance: decimal.NewFromInt(1000), CreatedAt: t0, UpdatedAt: t0},
		{ID: "b", UserID: "u1", Name: "Savings", Type: "bank", Balance: decimal.RequireFromString("300.50"), OpeningBalance: decimal.RequireFromString("300.50"), CreatedAt: t0, UpdatedAt: t0},
		{ID: "x", UserID: "u2", Name: "Other", Type: "cash", CreatedAt: t0, UpdatedAt: t0},
	} {
		require.NoError(t, s.CreateAccount(ctx, a))
	}
	require.NoError(t, s.CreateCategory(ctx, ledger.Category{
		ID: "food", UserID: "u1", Name: "Food", Kind: ledger.TypeExpense, Color: "#f00", Icon: "utensils", CreatedAt: t0,
	}))
}

func catRef(id string) *ledger.CategoryID {
	ref := ledger.CategoryID(id)
	return &ref
}

// =============================================================================
// SCHEMA
// =============================================================================

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	// GIVEN: A file database opened once
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateAccount(context.Background(), ledger.Account{
		ID: "a", UserID: "u1", Name: "A", CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, first.Close())

	// WHEN: Reopening it
	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	// THEN: Data survives and no migration re-runs
	a, err := second.GetAccount(context.Background(), "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "A", a.Name)
	assert.NoError(t, second.Ping(context.Background()))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccount_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	b, err := s.GetAccount(context.Background(), "u1", "b")

	require.NoError(t, err)
	assert.Equal(t, "Savings", b.Name)
	assert.True(t, b.Balance.Equal(decimal.RequireFromString("300.5")))
	assert.True(t, b.OpeningBalance.Equal(decimal.RequireFromString("300.5")))
	assert.True(t, b.CreatedAt.Equal(t0))
}

func TestGetAccount_OtherUser(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	_, err := s.GetAccount(context.Background(), "u2", "a")

	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAdjustBalance_Relative(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()

	require.NoError(t, s.AdjustBalance(ctx, "u1", "a", decimal.RequireFromString("-0.01"), at))
	require.NoError(t, s.AdjustBalance(ctx, "u1", "a", decimal.RequireFromString("12.34"), at))

	a, err := s.GetAccount(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1012.33", a.Balance.StringFixed(ledger.Scale))
	assert.True(t, at.Equal(a.UpdatedAt), "updated_at %v", a.UpdatedAt)
}

func TestMinorUnits_OutOfRangeRejected(t *testing.T) {
	// GIVEN: Amounts whose minor-unit value does not fit a 64-bit column
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()
	huge := decimal.RequireFromString("184467440737095526.16")

	// WHEN: Writing them through every path that converts to minor units
	errTx := s.InsertTransaction(ctx, ledger.Transaction{
		ID: "t1", UserID: "u1", Type: ledger.TypeIncome, Amount: huge,
		Date: t0, AccountID: "a", CreatedAt: t0, UpdatedAt: t0,
	})
	errAdjust := s.AdjustBalance(ctx, "u1", "a", huge, at)
	errAccount := s.CreateAccount(ctx, ledger.Account{
		ID: "big", UserID: "u1", Name: "Big", Balance: huge, OpeningBalance: huge, CreatedAt: t0, UpdatedAt: t0,
	})

	// THEN: Each is refused as an invalid amount and nothing is written
	assert.ErrorIs(t, errTx, ledger.ErrInvalidAmount)
	assert.ErrorIs(t, errAdjust, ledger.ErrInvalidAmount)
	assert.ErrorIs(t, errAccount, ledger.ErrInvalidAmount)

	_, err := s.GetTransaction(ctx, "u1", "t1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	a, err := s.GetAccount(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", a.Balance.StringFixed(ledger.Scale))
}

func TestAdjustBalance_MissingOrForeign(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, s.AdjustBalance(ctx, "u1", "missing", decimal.NewFromInt(1), at), ledger.ErrAccountNotFound)
	assert.ErrorIs(t, s.AdjustBalance(ctx, "u1", "x", decimal.NewFromInt(1), at), ledger.ErrAccountNotFound)
}

func TestAdjustBalance_ConcurrentOnFile(t *testing.T) {
	// GIVEN: A file-backed store (real connection pool)
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()
	seedAccounts(t, s)
	ctx := context.Background()

	// WHEN: 50 units of work each add 1.00 concurrently
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithTx(ctx, func(tx ledger.Store) error {
				return tx.AdjustBalance(ctx, "u1", "a", decimal.NewFromInt(1), at)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: No update was lost
	a, err := s.GetAccount(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1050.00", a.Balance.StringFixed(ledger.Scale))
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: Seeded accounts
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()

	// WHEN: A unit of work inserts, adjusts, then fails
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertTransaction(ctx, ledger.Transaction{
			ID: "t1", UserID: "u1", Type: ledger.TypeExpense, Amount: decimal.NewFromInt(5),
			Date: t0, AccountID: "a", CreatedAt: t0, UpdatedAt: t0,
		}); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, "u1", "a", decimal.NewFromInt(-5), at); err != nil {
			return err
		}
		return errors.New("late failure")
	})

	// THEN: Nothing is visible afterwards
	require.EqualError(t, err, "late failure")
	a, err := s.GetAccount(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", a.Balance.StringFixed(ledger.Scale))
	_, err = s.GetTransaction(ctx, "u1", "t1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx ledger.Store) error {
			_ = tx.AdjustBalance(ctx, "u1", "a", decimal.NewFromInt(-5), at)
			panic("crash")
		})
	})

	a, err := s.GetAccount(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", a.Balance.StringFixed(ledger.Scale))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransaction_RoundTripNullables(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()

	expense := ledger.Transaction{
		ID: "t1", UserID: "u1", Type: ledger.TypeExpense, Amount: decimal.RequireFromString("12.5"),
		Date: t0, Description: "lunch", CategoryID: catRef("food"), AccountID: "a",
		CreatedAt: t0, UpdatedAt: t0,
	}
	xfer := ledger.Transaction{
		ID: "t2", UserID: "u1", Type: ledger.TypeTransfer, Amount: decimal.NewFromInt(100),
		Date: t0, AccountID: "a", ToAccountID: "b", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.InsertTransaction(ctx, expense))
	require.NoError(t, s.InsertTransaction(ctx, xfer))

	got, err := s.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "lunch", got.Description)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, ledger.CategoryID("food"), *got.CategoryID)
	assert.Empty(t, got.ToAccountID)
	assert.Equal(t, "12.50", got.Amount.StringFixed(ledger.Scale))
	assert.True(t, got.Date.Equal(t0))

	got, err = s.GetTransaction(ctx, "u1", "t2")
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
	assert.Empty(t, got.Description)
	assert.Equal(t, ledger.AccountID("b"), got.ToAccountID)
}

func TestTransaction_SchemaRejectsSelfTransfer(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	err := s.InsertTransaction(context.Background(), ledger.Transaction{
		ID: "bad", UserID: "u1", Type: ledger.TypeTransfer, Amount: decimal.NewFromInt(1),
		Date: t0, AccountID: "a", ToAccountID: "a", CreatedAt: t0, UpdatedAt: t0,
	})

	assert.Error(t, err)
}

func TestUpdateTransaction(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()
	tx := ledger.Transaction{
		ID: "t1", UserID: "u1", Type: ledger.TypeExpense, Amount: decimal.NewFromInt(5),
		Date: t0, CategoryID: catRef("food"), AccountID: "a", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.InsertTransaction(ctx, tx))

	tx.Amount = decimal.NewFromInt(7)
	tx.AccountID = "b"
	tx.CategoryID = nil
	tx.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, s.UpdateTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID("b"), got.AccountID)
	assert.Nil(t, got.CategoryID)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	tx.UserID = "u2"
	assert.ErrorIs(t, s.UpdateTransaction(ctx, tx), ledger.ErrTransactionNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "u2", "t1"), ledger.ErrTransactionNotFound)
	require.NoError(t, s.DeleteTransaction(ctx, "u1", "t1"))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "u1", "t1"), ledger.ErrTransactionNotFound)
}

func TestListTransactions_JoinFilterOrder(t *testing.T) {
	// GIVEN: Three transactions for u1 over two days and one for u2
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()
	day2 := t0.AddDate(0, 0, 1)
	for _, tx := range []ledger.Transaction{
		{ID: "t1", UserID: "u1", Type: ledger.TypeExpense, Amount: decimal.NewFromInt(1), Date: t0, CategoryID: catRef("food"), AccountID: "a", CreatedAt: t0, UpdatedAt: t0},
		{ID: "t2", UserID: "u1", Type: ledger.TypeIncome, Amount: decimal.NewFromInt(2), Date: t0, AccountID: "b", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0},
		{ID: "t3", UserID: "u1", Type: ledger.TypeTransfer, Amount: decimal.NewFromInt(3), Date: day2, AccountID: "b", ToAccountID: "a", CreatedAt: t0, UpdatedAt: t0},
		{ID: "t4", UserID: "u2", Type: ledger.TypeIncome, Amount: decimal.NewFromInt(4), Date: day2, AccountID: "x", CreatedAt: t0, UpdatedAt: t0},
	} {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	// WHEN: Listing without a filter
	views, err := s.ListTransactions(ctx, "u1", ledger.Filter{})
	require.NoError(t, err)

	// THEN: Newest date first, same-day by creation time desc, joined names
	require.Len(t, views, 3)
	assert.Equal(t, ledger.TransactionID("t3"), views[0].ID)
	assert.Equal(t, "Savings", views[0].AccountName)
	assert.Equal(t, "Checking", views[0].ToAccountName)
	assert.Equal(t, ledger.TransactionID("t2"), views[1].ID)
	assert.Equal(t, ledger.TransactionID("t1"), views[2].ID)
	assert.Equal(t, "Food", views[2].CategoryName)
	assert.Equal(t, "#f00", views[2].CategoryColor)
	assert.Equal(t, "utensils", views[2].CategoryIcon)

	onA, err := s.ListTransactions(ctx, "u1", ledger.Filter{AccountID: "a"})
	require.NoError(t, err)
	assert.Len(t, onA, 2)

	incomes, err := s.ListTransactions(ctx, "u1", ledger.Filter{Type: ledger.TypeIncome})
	require.NoError(t, err)
	require.Len(t, incomes, 1)
	assert.Equal(t, ledger.TransactionID("t2"), incomes[0].ID)

	forA, err := s.TransactionsForAccount(ctx, "u1", "a")
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, ledger.TransactionID("t1"), forA[0].ID)
	assert.Equal(t, ledger.TransactionID("t3"), forA[1].ID)
}

func TestDeleteAccount_ForeignKeyGuard(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertTransaction(ctx, ledger.Transaction{
		ID: "t1", UserID: "u1", Type: ledger.TypeIncome, Amount: decimal.NewFromInt(1),
		Date: t0, AccountID: "a", CreatedAt: t0, UpdatedAt: t0,
	}))

	assert.Error(t, s.DeleteAccount(ctx, "u1", "a"))
	assert.ErrorIs(t, s.DeleteAccount(ctx, "u1", "missing"), ledger.ErrAccountNotFound)
	require.NoError(t, s.DeleteAccount(ctx, "u1", "b"))

	accts, err := s.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, ledger.AccountID("a"), accts[0].ID)
}

func TestListCategories(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	cats, err := s.ListCategories(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, ledger.TypeExpense, cats[0].Kind)

	_, err = s.GetCategory(context.Background(), "u2", "food")
	assert.ErrorIs(t, err, ledger.ErrCategoryNotFound)
}
