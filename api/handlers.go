/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every mutation to ledger.Engine.

ENDPOINTS:
  Transactions:
    POST   /api/transactions               Record income, expense or transfer
    GET    /api/transactions               List (?type=&accountId=)
    GET    /api/transactions/{id}          Get one
    PUT    /api/transactions/{id}          Edit (type is immutable)
    DELETE /api/transactions/{id}          Delete and reverse its effect

  Accounts:
    POST   /api/accounts                   Open account
    GET    /api/accounts                   List accounts
    GET    /api/accounts/{id}              Get account with balance
    DELETE /api/accounts/{id}              Delete (409 if referenced)
    GET    /api/accounts/{id}/verify       Replay balance from transactions

  Categories:
    POST   /api/categories                 Create category
    GET    /api/categories                 List categories

  Admin (no caller identity, all users):
    GET    /admin/reconciliation           Last reconciliation sweep
    POST   /admin/reconciliation           Run a sweep now

IDENTITY:
  The caller is identified by the X-User-ID header, set by the upstream
  gateway. Every read and write is scoped to that user.

ERROR HANDLING:
  Errors are returned as JSON {"message": ...}:
  - 400: Validation errors, message verbatim
  - 401: Missing X-User-ID
  - 404: Transaction or account not found (or not owned)
  - 409: Account still referenced by transactions
  - 500: Anything else, generic "operation failed"; detail only in logs

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Health Pinger // optional

	// Reconciler backs the admin reconciliation routes; optional.
	Reconciler *ReconciliationScheduler
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *ledger.Engine, health Pinger) *Handler {
	return &Handler{Engine: engine, Health: health}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a transaction and applies its balance effect.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	tx, err := h.Engine.Create(r.Context(), userFrom(r.Context()), in)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListTransactions returns the caller's transactions newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := ledger.Filter{
		Type:      ledger.Type(r.URL.Query().Get("type")),
		AccountID: ledger.AccountID(r.URL.Query().Get("accountId")),
	}

	views, err := h.Engine.List(r.Context(), userFrom(r.Context()), filter)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(views))
	for i, v := range views {
		dtos[i] = toTransactionViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Engine.Get(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction edits a transaction, reversing its stored effect and
// applying the edited one.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	tx, err := h.Engine.Update(r.Context(), userFrom(r.Context()), id, in)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction and reverses its effect.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	if err := h.Engine.Delete(r.Context(), userFrom(r.Context()), id); err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Message: "transaction deleted",
		ID:      string(id),
	})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens an account with an opening balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := h.Engine.CreateAccount(r.Context(), userFrom(r.Context()), ledger.AccountInput{
		Name:           req.Name,
		Type:           req.Type,
		OpeningBalance: req.OpeningBalance,
		Color:          req.Color,
		Icon:           req.Icon,
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// ListAccounts returns the caller's accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Engine.ListAccounts(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	dtos := make([]AccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account with its current balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Engine.GetAccount(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// DeleteAccount removes an account no transaction references.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.DeleteAccount(r.Context(), userFrom(r.Context()), ledger.AccountID(id)); err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Message: "account deleted",
		ID:      id,
	})
}

// VerifyAccount replays the account's transactions against its balance.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	rec, err := h.Engine.Verify(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// CreateCategory creates an income or expense category.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cat, err := h.Engine.CreateCategory(r.Context(), userFrom(r.Context()), ledger.CategoryInput{
		Name:  req.Name,
		Kind:  ledger.Type(req.Kind),
		Color: req.Color,
		Icon:  req.Icon,
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(cat))
}

// ListCategories returns the caller's categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Engine.ListCategories(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetReconciliation returns the most recent reconciliation sweep.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		writeError(w, http.StatusNotFound, "reconciliation is not configured")
		return
	}
	run := h.Reconciler.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "no reconciliation has run yet")
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationRunDTO(*run))
}

// TriggerReconciliation runs a sweep now and returns its result.
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		writeError(w, http.StatusNotFound, "reconciliation is not configured")
		return
	}
	run := h.Reconciler.Sweep(r.Context())
	if run.Err != nil {
		writeLedgerError(w, r, run.Err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationRunDTO(run))
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports 200 when the store answers a ping.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeLedgerError maps ledger errors to status codes. Client errors keep
// their message; anything unexpected is logged and reported generically.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// writeAccountError treats a missing account as 404 on account routes,
// where the account is the addressed resource rather than a reference.
func writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeLedgerError(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}
