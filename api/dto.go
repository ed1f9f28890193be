/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FIELD NAMES:
  camelCase (accountId, toAccountId, categoryId).

MONEY:
  Requests accept amounts as JSON strings ("12.50") or numbers (12.5);
  decimal.Decimal decodes both. Responses always render strings at two
  fraction digits.

DATES:
  Requests accept RFC 3339 timestamps or plain YYYY-MM-DD dates (midnight
  UTC). Responses render RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest is the request to record a transaction.
type CreateTransactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	AccountID   string          `json:"accountId"`
	ToAccountID string          `json:"toAccountId,omitempty"`
	CategoryID  *string         `json:"categoryId,omitempty"`
	Description string          `json:"description,omitempty"`
}

// UpdateTransactionRequest edits a transaction. Type may be omitted; if
// present it must match the stored type.
type UpdateTransactionRequest struct {
	Type        string          `json:"type,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	AccountID   string          `json:"accountId"`
	ToAccountID string          `json:"toAccountId,omitempty"`
	CategoryID  *string         `json:"categoryId,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (r CreateTransactionRequest) toInput() (ledger.CreateInput, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return ledger.CreateInput{}, err
	}
	return ledger.CreateInput{
		Type:        ledger.Type(strings.ToLower(strings.TrimSpace(r.Type))),
		Amount:      r.Amount,
		Date:        date,
		AccountID:   ledger.AccountID(r.AccountID),
		ToAccountID: ledger.AccountID(r.ToAccountID),
		CategoryID:  categoryRef(r.CategoryID),
		Description: r.Description,
	}, nil
}

func (r UpdateTransactionRequest) toInput() (ledger.UpdateInput, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return ledger.UpdateInput{}, err
	}
	return ledger.UpdateInput{
		Type:        ledger.Type(strings.ToLower(strings.TrimSpace(r.Type))),
		Amount:      r.Amount,
		Date:        date,
		AccountID:   ledger.AccountID(r.AccountID),
		ToAccountID: ledger.AccountID(r.ToAccountID),
		CategoryID:  categoryRef(r.CategoryID),
		Description: r.Description,
	}, nil
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Amount      string  `json:"amount"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
	CategoryID  *string `json:"categoryId"`
	AccountID   string  `json:"accountId"`
	ToAccountID *string `json:"toAccountId"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`

	// Listing-only display fields
	CategoryName  string `json:"categoryName,omitempty"`
	CategoryColor string `json:"categoryColor,omitempty"`
	CategoryIcon  string `json:"categoryIcon,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	ToAccountName string `json:"toAccountName,omitempty"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(tx.ID),
		Type:        string(tx.Type),
		Amount:      tx.Amount.StringFixed(ledger.Scale),
		Date:        formatTime(tx.Date),
		Description: tx.Description,
		AccountID:   string(tx.AccountID),
		CreatedAt:   formatTime(tx.CreatedAt),
		UpdatedAt:   formatTime(tx.UpdatedAt),
	}
	if tx.CategoryID != nil {
		id := string(*tx.CategoryID)
		dto.CategoryID = &id
	}
	if tx.ToAccountID != "" {
		id := string(tx.ToAccountID)
		dto.ToAccountID = &id
	}
	return dto
}

func toTransactionViewDTO(v ledger.TransactionView) TransactionDTO {
	dto := toTransactionDTO(v.Transaction)
	dto.CategoryName = v.CategoryName
	dto.CategoryColor = v.CategoryColor
	dto.CategoryIcon = v.CategoryIcon
	dto.AccountName = v.AccountName
	dto.ToAccountName = v.ToAccountName
	return dto
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccountRequest is the request to open an account.
type CreateAccountRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Color          string          `json:"color,omitempty"`
	Icon           string          `json:"icon,omitempty"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Balance        string `json:"balance"`
	OpeningBalance string `json:"openingBalance"`
	Color          string `json:"color,omitempty"`
	Icon           string `json:"icon,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           a.Type,
		Balance:        a.Balance.StringFixed(ledger.Scale),
		OpeningBalance: a.OpeningBalance.StringFixed(ledger.Scale),
		Color:          a.Color,
		Icon:           a.Icon,
		CreatedAt:      formatTime(a.CreatedAt),
		UpdatedAt:      formatTime(a.UpdatedAt),
	}
}

// ReconciliationDTO is the result of GET /accounts/{id}/verify.
type ReconciliationDTO struct {
	UserID       string `json:"userId"`
	AccountID    string `json:"accountId"`
	Stored       string `json:"stored"`
	Expected     string `json:"expected"`
	Drift        string `json:"drift"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		UserID:       string(r.UserID),
		AccountID:    string(r.AccountID),
		Stored:       r.Stored.StringFixed(ledger.Scale),
		Expected:     r.Expected.StringFixed(ledger.Scale),
		Drift:        r.Drift.StringFixed(ledger.Scale),
		Transactions: r.Transactions,
		Consistent:   r.Consistent(),
	}
}

// ReconciliationRunDTO is one sweep over every account.
type ReconciliationRunDTO struct {
	StartedAt  string              `json:"startedAt"`
	DurationMs int64               `json:"durationMs"`
	Drifted    []ReconciliationDTO `json:"drifted"`
	Error      string              `json:"error,omitempty"`
}

func toReconciliationRunDTO(run ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		StartedAt:  formatTime(run.StartedAt),
		DurationMs: run.Duration.Milliseconds(),
		Drifted:    make([]ReconciliationDTO, len(run.Drifted)),
	}
	for i, rec := range run.Drifted {
		dto.Drifted[i] = toReconciliationDTO(rec)
	}
	if run.Err != nil {
		dto.Error = "sweep failed"
	}
	return dto
}

// =============================================================================
// CATEGORIES
// =============================================================================

// CreateCategoryRequest is the request to create a category.
type CreateCategoryRequest struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// CategoryDTO represents a category in API responses.
type CategoryDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Kind:      string(c.Kind),
		Color:     c.Color,
		Icon:      c.Icon,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// HELPERS
// =============================================================================

// parseDate accepts RFC 3339 (with or without fractional seconds) or
// YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ledger.ErrInvalidInput)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q, expected RFC 3339 or YYYY-MM-DD", ledger.ErrInvalidInput, s)
}

func categoryRef(id *string) *ledger.CategoryID {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	ref := ledger.CategoryID(strings.TrimSpace(*id))
	return &ref
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
