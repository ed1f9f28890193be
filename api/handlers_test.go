/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Status mapping (201/200/400/401/404/409/500)
- Balance effects observed through the API
- Listing filters and denormalized display fields
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	memstore "github.com/warp/finance-ledger/ledger/store"
	"github.com/warp/finance-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testUser = "user-1"

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := ledger.NewEngine(store, ledger.WithClock(ledger.NewFixedClock(testNow)))
	return NewRouter(NewHandler(engine, store), RouterOptions{Logger: zerolog.Nop()})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, h, testUser, method, path, body)
}

func doAs(t *testing.T, h http.Handler, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createAccount(t *testing.T, h http.Handler, name, opening string) AccountDTO {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/accounts", map[string]any{
		"name":           name,
		"type":           "bank",
		"openingBalance": opening,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AccountDTO](t, rec)
}

func balanceOf(t *testing.T, h http.Handler, id string) string {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/accounts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AccountDTO](t, rec).Balance
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateTransaction_Income(t *testing.T) {
	// GIVEN: Account A with balance 1000
	h := newTestRouter(t)
	a := createAccount(t, h, "Checking", "1000")

	// WHEN: Recording income of 500
	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type":      "income",
		"amount":    "500",
		"date":      "2026-03-01",
		"accountId": a.ID,
	})

	// THEN: 201 with the stored record, balance 1500
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[TransactionDTO](t, rec)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "income", tx.Type)
	assert.Equal(t, "500.00", tx.Amount)
	assert.Nil(t, tx.ToAccountID)
	assert.Equal(t, "1500.00", balanceOf(t, h, a.ID))
}

func TestCreateTransaction_NumericAmount(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "Cash", "10")

	rec := do(t, h, http.MethodPost, "/api/transactions", `{"type":"expense","amount":2.5,"date":"2026-03-01T08:30:00Z","accountId":"`+a.ID+`"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "7.50", balanceOf(t, h, a.ID))
}

func TestCreateTransaction_FutureDate_Rejected(t *testing.T) {
	// GIVEN: An account
	h := newTestRouter(t)
	a := createAccount(t, h, "Checking", "100")

	// WHEN: The date is one hour after now
	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type":      "expense",
		"amount":    "10",
		"date":      testNow.Add(time.Hour).Format(time.RFC3339),
		"accountId": a.ID,
	})

	// THEN: 400 with the validation message verbatim, nothing written
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Contains(t, body.Message, "future")
	assert.Equal(t, "100.00", balanceOf(t, h, a.ID))

	list := decode[[]TransactionDTO](t, do(t, h, http.MethodGet, "/api/transactions", nil))
	assert.Empty(t, list)
}

func TestCreateTransaction_SelfTransfer_Rejected(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "Checking", "100")

	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type":        "transfer",
		"amount":      "10",
		"date":        "2026-03-01",
		"accountId":   a.ID,
		"toAccountId": a.ID,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "invalid transfer")
	assert.Equal(t, "100.00", balanceOf(t, h, a.ID))
}

func TestCreateTransaction_BadRequests(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "Checking", "100")

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"type":`},
		{"invalid amount string", `{"type":"income","amount":"abc","date":"2026-03-01","accountId":"` + a.ID + `"}`},
		{"zero amount", map[string]any{"type": "income", "amount": "0", "date": "2026-03-01", "accountId": a.ID}},
		{"three decimals", map[string]any{"type": "income", "amount": "1.234", "date": "2026-03-01", "accountId": a.ID}},
		{"amount above limit", map[string]any{"type": "income", "amount": "184467440737095526.16", "date": "2026-03-01", "accountId": a.ID}},
		{"unknown type", map[string]any{"type": "refund", "amount": "1", "date": "2026-03-01", "accountId": a.ID}},
		{"bad date", map[string]any{"type": "income", "amount": "1", "date": "March 1st", "accountId": a.ID}},
		{"missing account", map[string]any{"type": "income", "amount": "1", "date": "2026-03-01"}},
		{"unknown account", map[string]any{"type": "income", "amount": "1", "date": "2026-03-01", "accountId": "nope"}},
		{"unknown category", map[string]any{"type": "income", "amount": "1", "date": "2026-03-01", "accountId": a.ID, "categoryId": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Message)
		})
	}
	assert.Equal(t, "100.00", balanceOf(t, h, a.ID))
}

func TestMissingUserHeader_Unauthorized(t *testing.T) {
	h := newTestRouter(t)

	rec := doAs(t, h, "", http.MethodGet, "/api/transactions", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateTransaction_TransferAmount(t *testing.T) {
	// GIVEN: A 1500, B 300, transfer of 200 A -> B
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "1500")
	b := createAccount(t, h, "B", "300")
	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "transfer", "amount": "200", "date": "2026-03-01",
		"accountId": a.ID, "toAccountId": b.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "1300.00", balanceOf(t, h, a.ID))
	assert.Equal(t, "500.00", balanceOf(t, h, b.ID))

	// WHEN: Editing the amount to 300 (type omitted)
	rec = do(t, h, http.MethodPut, "/api/transactions/"+tx.ID, map[string]any{
		"amount": "300", "date": "2026-03-01",
		"accountId": a.ID, "toAccountId": b.ID,
	})

	// THEN: A = 1200, B = 600
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "300.00", decode[TransactionDTO](t, rec).Amount)
	assert.Equal(t, "1200.00", balanceOf(t, h, a.ID))
	assert.Equal(t, "600.00", balanceOf(t, h, b.ID))
}

func TestUpdateTransaction_NotFound(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "0")

	rec := do(t, h, http.MethodPut, "/api/transactions/missing", map[string]any{
		"amount": "1", "date": "2026-03-01", "accountId": a.ID,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTransaction_TypeChange_Rejected(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "100")
	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "expense", "amount": "10", "date": "2026-03-01", "accountId": a.ID,
	})
	tx := decode[TransactionDTO](t, rec)

	rec = do(t, h, http.MethodPut, "/api/transactions/"+tx.ID, map[string]any{
		"type": "income", "amount": "10", "date": "2026-03-01", "accountId": a.ID,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "90.00", balanceOf(t, h, a.ID))
}

func TestUpdateTransaction_OtherUser_NotFound(t *testing.T) {
	// GIVEN: user-1 owns a transaction
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "100")
	tx := decode[TransactionDTO](t, do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "expense", "amount": "10", "date": "2026-03-01", "accountId": a.ID,
	}))

	// WHEN: user-2 tries to edit and delete it
	put := doAs(t, h, "user-2", http.MethodPut, "/api/transactions/"+tx.ID, map[string]any{
		"amount": "1", "date": "2026-03-01", "accountId": a.ID,
	})
	del := doAs(t, h, "user-2", http.MethodDelete, "/api/transactions/"+tx.ID, nil)

	// THEN: Both are 404 and user-1's balance is untouched
	assert.Equal(t, http.StatusNotFound, put.Code)
	assert.Equal(t, http.StatusNotFound, del.Code)
	assert.Equal(t, "90.00", balanceOf(t, h, a.ID))
}

// =============================================================================
// DELETE / LIST
// =============================================================================

func TestDeleteTransaction_ReversesAndUnlists(t *testing.T) {
	// GIVEN: C at 500 with an expense of 100 (balance 400)
	h := newTestRouter(t)
	c := createAccount(t, h, "C", "500")
	tx := decode[TransactionDTO](t, do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "expense", "amount": "100", "date": "2026-03-01", "accountId": c.ID,
	}))
	require.Equal(t, "400.00", balanceOf(t, h, c.ID))

	// WHEN: Deleting it
	rec := do(t, h, http.MethodDelete, "/api/transactions/"+tx.ID, nil)

	// THEN: 200 confirmation, C back to 500, listing empty
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tx.ID, decode[DeleteResponse](t, rec).ID)
	assert.Equal(t, "500.00", balanceOf(t, h, c.ID))
	assert.Empty(t, decode[[]TransactionDTO](t, do(t, h, http.MethodGet, "/api/transactions", nil)))

	rec = do(t, h, http.MethodDelete, "/api/transactions/"+tx.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactions_FiltersAndDisplayFields(t *testing.T) {
	// GIVEN: Two accounts, a category, an expense on A and a transfer B -> A
	h := newTestRouter(t)
	a := createAccount(t, h, "Checking", "100")
	b := createAccount(t, h, "Savings", "100")
	catRec := do(t, h, http.MethodPost, "/api/categories", map[string]any{
		"name": "Groceries", "kind": "expense", "color": "#00ff00",
	})
	require.Equal(t, http.StatusCreated, catRec.Code, catRec.Body.String())
	cat := decode[CategoryDTO](t, catRec)

	do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "expense", "amount": "5", "date": "2026-03-01",
		"accountId": a.ID, "categoryId": cat.ID,
	})
	do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "transfer", "amount": "20", "date": "2026-03-02",
		"accountId": b.ID, "toAccountId": a.ID,
	})

	// WHEN/THEN: Account filter matches both sides of the transfer, newest first
	all := decode[[]TransactionDTO](t, do(t, h, http.MethodGet, "/api/transactions?accountId="+a.ID, nil))
	require.Len(t, all, 2)
	assert.Equal(t, "transfer", all[0].Type)
	assert.Equal(t, "Savings", all[0].AccountName)
	assert.Equal(t, "Checking", all[0].ToAccountName)
	assert.Equal(t, "Groceries", all[1].CategoryName)
	assert.Equal(t, "#00ff00", all[1].CategoryColor)

	expenses := decode[[]TransactionDTO](t, do(t, h, http.MethodGet, "/api/transactions?type=expense", nil))
	require.Len(t, expenses, 1)

	rec := do(t, h, http.MethodGet, "/api/transactions?type=refund", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Listing never moves balances
	assert.Equal(t, "115.00", balanceOf(t, h, a.ID))
	assert.Equal(t, "80.00", balanceOf(t, h, b.ID))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestDeleteAccount_InUse_Conflict(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "100")
	do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "income", "amount": "1", "date": "2026-03-01", "accountId": a.ID,
	})

	rec := do(t, h, http.MethodDelete, "/api/accounts/"+a.ID, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteAccount_Unused(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "100")

	rec := do(t, h, http.MethodDelete, "/api/accounts/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/accounts/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyAccount(t *testing.T) {
	h := newTestRouter(t)
	a := createAccount(t, h, "A", "100")
	do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "expense", "amount": "33.33", "date": "2026-03-01", "accountId": a.ID,
	})

	rec := do(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/verify", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ReconciliationDTO](t, rec)
	assert.True(t, got.Consistent)
	assert.Equal(t, "66.67", got.Stored)
	assert.Equal(t, "66.67", got.Expected)
	assert.Equal(t, 1, got.Transactions)
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)

	rec := doAs(t, h, "", http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthz_StoreDown(t *testing.T) {
	engine := ledger.NewEngine(memstore.NewMemory())
	h := NewRouter(NewHandler(engine, downPinger{}), RouterOptions{Logger: zerolog.Nop()})

	rec := doAs(t, h, "", http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]string](t, rec)["status"])
}

// =============================================================================
// INTERNAL FAILURES
// =============================================================================

// failingStore breaks every balance adjustment made inside a unit of work.
type failingStore struct {
	*memstore.Memory
}

func (f failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(failingTx{s})
	})
}

type failingTx struct {
	ledger.Store
}

func (failingTx) AdjustBalance(context.Context, ledger.UserID, ledger.AccountID, decimal.Decimal, time.Time) error {
	return errors.New("disk I/O error")
}

func TestCreateTransaction_StoreFailure_GenericMessage(t *testing.T) {
	// GIVEN: A store whose balance writes fail
	mem := memstore.NewMemory()
	engine := ledger.NewEngine(failingStore{mem}, ledger.WithClock(ledger.NewFixedClock(testNow)))
	h := NewRouter(NewHandler(engine, nil), RouterOptions{Logger: zerolog.Nop()})
	a := createAccount(t, h, "A", "100")

	// WHEN: Creating a transaction
	rec := do(t, h, http.MethodPost, "/api/transactions", map[string]any{
		"type": "income", "amount": "5", "date": "2026-03-01", "accountId": a.ID,
	})

	// THEN: 500 without internals, and the insert was rolled back
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "operation failed", decode[ErrorResponse](t, rec).Message)
	assert.NotContains(t, rec.Body.String(), "disk")
	assert.Empty(t, decode[[]TransactionDTO](t, do(t, h, http.MethodGet, "/api/transactions", nil)))
	assert.Equal(t, "100.00", balanceOf(t, h, a.ID))
}
