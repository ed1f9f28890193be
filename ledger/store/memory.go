// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	accounts     map[ledger.AccountID]ledger.Account
	categories   map[ledger.CategoryID]ledger.Category
	transactions map[ledger.TransactionID]ledger.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		categories:   make(map[ledger.CategoryID]ledger.Category),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn while holding the write lock. Writes go straight to
// the maps; on error or panic a snapshot taken at entry is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snap)
			panic(r)
		}
		if err != nil {
			m.restore(snap)
		}
	}()

	return fn(&view{m: m})
}

type memorySnapshot struct {
	accounts     map[ledger.AccountID]ledger.Account
	categories   map[ledger.CategoryID]ledger.Category
	transactions map[ledger.TransactionID]ledger.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		categories:   make(map[ledger.CategoryID]ledger.Category, len(m.categories)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.categories {
		s.categories[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.categories = s.categories
	m.transactions = s.transactions
}

// view is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the *Locked methods directly.
type view struct {
	m *Memory
}

func (v *view) CreateAccount(_ context.Context, a ledger.Account) error {
	return v.m.createAccountLocked(a)
}

func (v *view) GetAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	return v.m.getAccountLocked(userID, id)
}

func (v *view) ListAccounts(_ context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	return v.m.listAccountsLocked(userID), nil
}

func (v *view) AllAccounts(_ context.Context) ([]ledger.Account, error) {
	return v.m.allAccountsLocked(), nil
}

func (v *view) DeleteAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) error {
	return v.m.deleteAccountLocked(userID, id)
}

func (v *view) AdjustBalance(_ context.Context, userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	return v.m.adjustLocked(userID, id, delta, at)
}

func (v *view) CreateCategory(_ context.Context, c ledger.Category) error {
	v.m.categories[c.ID] = c
	return nil
}

func (v *view) GetCategory(_ context.Context, userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	return v.m.getCategoryLocked(userID, id)
}

func (v *view) ListCategories(_ context.Context, userID ledger.UserID) ([]ledger.Category, error) {
	return v.m.listCategoriesLocked(userID), nil
}

func (v *view) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	v.m.transactions[tx.ID] = tx
	return nil
}

func (v *view) GetTransaction(_ context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	return v.m.getTransactionLocked(userID, id)
}

func (v *view) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.m.updateTransactionLocked(tx)
}

func (v *view) DeleteTransaction(_ context.Context, userID ledger.UserID, id ledger.TransactionID) error {
	return v.m.deleteTransactionLocked(userID, id)
}

func (v *view) ListTransactions(_ context.Context, userID ledger.UserID, filter ledger.Filter) ([]ledger.TransactionView, error) {
	return v.m.listTransactionsLocked(userID, filter), nil
}

func (v *view) TransactionsForAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) ([]ledger.Transaction, error) {
	return v.m.forAccountLocked(userID, id), nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a ledger.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(userID, id)
}

func (m *Memory) getAccountLocked(userID ledger.UserID, id ledger.AccountID) (ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok || a.UserID != userID {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) ListAccounts(_ context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(userID), nil
}

func (m *Memory) listAccountsLocked(userID ledger.UserID) []ledger.Account {
	var out []ledger.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) AllAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allAccountsLocked(), nil
}

func (m *Memory) allAccountsLocked() []ledger.Account {
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) DeleteAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAccountLocked(userID, id)
}

func (m *Memory) deleteAccountLocked(userID ledger.UserID, id ledger.AccountID) error {
	if _, err := m.getAccountLocked(userID, id); err != nil {
		return err
	}
	delete(m.accounts, id)
	return nil
}

// AdjustBalance adds delta under the write lock, so concurrent adjustments
// serialize instead of overwriting each other.
func (m *Memory) AdjustBalance(_ context.Context, userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(userID, id, delta, at)
}

func (m *Memory) adjustLocked(userID ledger.UserID, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	a, err := m.getAccountLocked(userID, id)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = at
	m.accounts[id] = a
	return nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (m *Memory) CreateCategory(_ context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) GetCategory(_ context.Context, userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCategoryLocked(userID, id)
}

func (m *Memory) getCategoryLocked(userID ledger.UserID, id ledger.CategoryID) (ledger.Category, error) {
	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return ledger.Category{}, ledger.ErrCategoryNotFound
	}
	return c, nil
}

func (m *Memory) ListCategories(_ context.Context, userID ledger.UserID) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCategoriesLocked(userID), nil
}

func (m *Memory) listCategoriesLocked(userID ledger.UserID) []ledger.Category {
	var out []ledger.Category
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(userID, id)
}

func (m *Memory) getTransactionLocked(userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok || tx.UserID != userID {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionLocked(tx)
}

func (m *Memory) updateTransactionLocked(tx ledger.Transaction) error {
	if _, err := m.getTransactionLocked(tx.UserID, tx.ID); err != nil {
		return err
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, userID ledger.UserID, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTransactionLocked(userID, id)
}

func (m *Memory) deleteTransactionLocked(userID ledger.UserID, id ledger.TransactionID) error {
	if _, err := m.getTransactionLocked(userID, id); err != nil {
		return err
	}
	delete(m.transactions, id)
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, userID ledger.UserID, filter ledger.Filter) ([]ledger.TransactionView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(userID, filter), nil
}

func (m *Memory) listTransactionsLocked(userID ledger.UserID, filter ledger.Filter) []ledger.TransactionView {
	var out []ledger.TransactionView
	for _, tx := range m.transactions {
		if tx.UserID != userID || !filter.Matches(tx) {
			continue
		}
		out = append(out, m.viewLocked(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].Transaction, out[j].Transaction)
	})
	return out
}

func (m *Memory) viewLocked(tx ledger.Transaction) ledger.TransactionView {
	v := ledger.TransactionView{Transaction: tx}
	if a, ok := m.accounts[tx.AccountID]; ok {
		v.AccountName = a.Name
	}
	if tx.ToAccountID != "" {
		if a, ok := m.accounts[tx.ToAccountID]; ok {
			v.ToAccountName = a.Name
		}
	}
	if tx.CategoryID != nil {
		if c, ok := m.categories[*tx.CategoryID]; ok {
			v.CategoryName = c.Name
			v.CategoryColor = c.Color
			v.CategoryIcon = c.Icon
		}
	}
	return v
}

func (m *Memory) TransactionsForAccount(_ context.Context, userID ledger.UserID, id ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forAccountLocked(userID, id), nil
}

func (m *Memory) forAccountLocked(userID ledger.UserID, id ledger.AccountID) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID && tx.Touches(id) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[j], out[i])
	})
	return out
}

// newerFirst orders by Date, then CreatedAt, then ID, all descending.
func newerFirst(a, b ledger.Transaction) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
