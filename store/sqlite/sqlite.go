/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Durable storage for accounts, categories and transactions. The same
  patterns apply to PostgreSQL; only the DSN and a few SQL details differ.

KEY TABLES:
  accounts:     balance_minor is the running balance in minor units
  categories:   display metadata for listings
  transactions: one row per income, expense or transfer

MONEY:
  Stored as INTEGER minor units at ledger.Scale so the database can apply
  relative adjustments exactly:

    UPDATE accounts SET balance_minor = balance_minor + ? WHERE id = ? AND user_id = ?

UNIT OF WORK:
  WithTx runs the callback inside one *sql.Tx. The DSN sets
  _txlock=immediate, so BEGIN takes the database write lock up front and
  the lock is held until commit or rollback. Two processes racing on the
  same account serialize on that lock instead of losing an update.

CONCURRENCY:
  In-process access is serialized with sync.RWMutex (readers share, the
  unit of work is exclusive). Across processes SQLite's own locking and
  busy_timeout apply.

MIGRATION:
  Schema lives in migrations/*.sql, embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The deferred Rollback
// also runs when fn panics.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the ledger.Store bound to one *sql.Tx.
type txStore struct {
	q queryer
}

func (ts *txStore) CreateAccount(ctx context.Context, a ledger.Account) error {
	return insertAccount(ctx, ts.q, a)
}

func (ts *txStore) GetAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, ts.q, userID, id)
}

func (ts *txStore) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.q, userID)
}

func (ts *txStore) AllAccounts(ctx context.Context) ([]ledger.Account, error) {
	return allAccounts(ctx, ts.q)
}

func (ts *txStore) DeleteAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) error {
	return deleteAccount(ctx, ts.q, userID, id)
}

func (ts *txStore) AdjustBalance(ctx context.Context, userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	return adjustBalance(ctx, ts.q, userID, id, delta, at)
}

func (ts *txStore) CreateCategory(ctx context.Context, c ledger.Category) error {
	return insertCategory(ctx, ts.q, c)
}

func (ts *txStore) GetCategory(ctx context.Context, userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	return getCategory(ctx, ts.q, userID, id)
}

func (ts *txStore) ListCategories(ctx context.Context, userID ledger.UserID) ([]ledger.Category, error) {
	return listCategories(ctx, ts.q, userID)
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, ts.q, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, ts.q, userID, id)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return updateTransaction(ctx, ts.q, tx)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) error {
	return deleteTransaction(ctx, ts.q, userID, id)
}

func (ts *txStore) ListTransactions(ctx context.Context, userID ledger.UserID, filter ledger.Filter) ([]ledger.TransactionView, error) {
	return listTransactions(ctx, ts.q, userID, filter)
}

func (ts *txStore) TransactionsForAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) ([]ledger.Transaction, error) {
	return transactionsForAccount(ctx, ts.q, userID, id)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAccount(ctx, s.db, a)
}

func (s *Store) GetAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, userID, id)
}

func (s *Store) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, userID)
}

func (s *Store) AllAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allAccounts(ctx, s.db)
}

func (s *Store) DeleteAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAccount(ctx, s.db, userID, id)
}

// AdjustBalance outside a unit of work is still a single atomic statement.
func (s *Store) AdjustBalance(ctx context.Context, userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustBalance(ctx, s.db, userID, id, delta, at)
}

const accountColumns = `id, user_id, name, account_type, balance_minor, opening_minor, color, icon, created_at, updated_at`

func insertAccount(ctx context.Context, q queryer, a ledger.Account) error {
	balance, err := ledger.ToMinor(a.Balance)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	opening, err := ledger.ToMinor(a.OpeningBalance)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Type,
		balance, opening,
		a.Color, a.Icon,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func getAccount(ctx context.Context, q queryer, userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, err
}

func listAccounts(ctx context.Context, q queryer, userID ledger.UserID) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY name, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	return collectAccounts(rows)
}

func allAccounts(ctx context.Context, q queryer) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY user_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]ledger.Account, error) {
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func deleteAccount(ctx context.Context, q queryer, userID ledger.UserID, id ledger.AccountID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func adjustBalance(ctx context.Context, q queryer, userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	minor, err := ledger.ToMinor(delta)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance_minor = balance_minor + ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		minor, formatTime(at), id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a                    ledger.Account
		balance, opening     int64
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &balance, &opening,
		&a.Color, &a.Icon, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Balance = ledger.FromMinor(balance)
	a.OpeningBalance = ledger.FromMinor(opening)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// CATEGORY STORE
// =============================================================================

func (s *Store) CreateCategory(ctx context.Context, c ledger.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCategory(ctx, s.db, c)
}

func (s *Store) GetCategory(ctx context.Context, userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCategory(ctx, s.db, userID, id)
}

func (s *Store) ListCategories(ctx context.Context, userID ledger.UserID) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCategories(ctx, s.db, userID)
}

const categoryColumns = `id, user_id, name, kind, color, icon, created_at`

func insertCategory(ctx context.Context, q queryer, c ledger.Category) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Kind, c.Color, c.Icon, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func getCategory(ctx context.Context, q queryer, userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Category{}, ledger.ErrCategoryNotFound
	}
	return c, err
}

func listCategories(ctx context.Context, q queryer, userID ledger.UserID) ([]ledger.Category, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY name, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []ledger.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func scanCategory(row scanner) (ledger.Category, error) {
	var (
		c         ledger.Category
		createdAt string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Kind, &c.Color, &c.Icon, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan category: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransaction(ctx, s.db, tx)
}

func (s *Store) GetTransaction(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, userID, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransaction(ctx, s.db, tx)
}

func (s *Store) DeleteTransaction(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, userID, id)
}

func (s *Store) ListTransactions(ctx context.Context, userID ledger.UserID, filter ledger.Filter) ([]ledger.TransactionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, userID, filter)
}

func (s *Store) TransactionsForAccount(ctx context.Context, userID ledger.UserID, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsForAccount(ctx, s.db, userID, id)
}

const transactionColumns = `t.id, t.user_id, t.tx_type, t.amount_minor, t.date, t.description,
	t.category_id, t.account_id, t.to_account_id, t.created_at, t.updated_at`

func insertTransaction(ctx context.Context, q queryer, tx ledger.Transaction) error {
	amount, err := ledger.ToMinor(tx.Amount)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, tx_type, amount_minor, date, description,
		 category_id, account_id, to_account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, amount, formatTime(tx.Date),
		nullString(tx.Description), nullCategory(tx.CategoryID),
		tx.AccountID, nullString(string(tx.ToAccountID)),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func getTransaction(ctx context.Context, q queryer, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ? AND t.user_id = ?`,
		id, userID,
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, err
}

func updateTransaction(ctx context.Context, q queryer, tx ledger.Transaction) error {
	amount, err := ledger.ToMinor(tx.Amount)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET amount_minor = ?, date = ?, description = ?, category_id = ?,
		    account_id = ?, to_account_id = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		amount, formatTime(tx.Date), nullString(tx.Description),
		nullCategory(tx.CategoryID), tx.AccountID, nullString(string(tx.ToAccountID)),
		formatTime(tx.UpdatedAt), tx.ID, tx.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func deleteTransaction(ctx context.Context, q queryer, userID ledger.UserID, id ledger.TransactionID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func listTransactions(ctx context.Context, q queryer, userID ledger.UserID, filter ledger.Filter) ([]ledger.TransactionView, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT ` + transactionColumns + `,
		       COALESCE(c.name, ''), COALESCE(c.color, ''), COALESCE(c.icon, ''),
		       COALESCE(a.name, ''), COALESCE(ta.name, '')
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		LEFT JOIN accounts a ON a.id = t.account_id
		LEFT JOIN accounts ta ON ta.id = t.to_account_id
		WHERE t.user_id = ?`)
	args := []any{userID}

	if filter.Type != "" {
		query.WriteString(` AND t.tx_type = ?`)
		args = append(args, filter.Type)
	}
	if filter.AccountID != "" {
		query.WriteString(` AND (t.account_id = ? OR t.to_account_id = ?)`)
		args = append(args, filter.AccountID, filter.AccountID)
	}
	query.WriteString(` ORDER BY t.date DESC, t.created_at DESC, t.id DESC`)

	rows, err := q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var views []ledger.TransactionView
	for rows.Next() {
		var v ledger.TransactionView
		tx, err := scanTransaction(rows,
			&v.CategoryName, &v.CategoryColor, &v.CategoryIcon,
			&v.AccountName, &v.ToAccountName,
		)
		if err != nil {
			return nil, err
		}
		v.Transaction = tx
		views = append(views, v)
	}
	return views, rows.Err()
}

func transactionsForAccount(ctx context.Context, q queryer, userID ledger.UserID, id ledger.AccountID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		WHERE t.user_id = ? AND (t.account_id = ? OR t.to_account_id = ?)
		ORDER BY t.date ASC, t.created_at ASC, t.id ASC`,
		userID, id, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query account transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// scanTransaction scans transactionColumns followed by any extra columns.
func scanTransaction(row scanner, extra ...any) (ledger.Transaction, error) {
	var (
		tx                   ledger.Transaction
		amount               int64
		date                 string
		description          sql.NullString
		categoryID           sql.NullString
		toAccountID          sql.NullString
		createdAt, updatedAt string
	)
	dest := []any{
		&tx.ID, &tx.UserID, &tx.Type, &amount, &date, &description,
		&categoryID, &tx.AccountID, &toAccountID, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = ledger.FromMinor(amount)
	tx.Date = parseTime(date)
	tx.Description = description.String
	if categoryID.Valid {
		id := ledger.CategoryID(categoryID.String)
		tx.CategoryID = &id
	}
	tx.ToAccountID = ledger.AccountID(toAccountID.String)
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullCategory(id *ledger.CategoryID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

// requireRow maps "no row affected" to notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
