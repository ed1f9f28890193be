package ledger

import (
	"context"
	"strings"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount opens an account. The opening balance is the starting
// point of the consistency check in Verify.
func (e *Engine) CreateAccount(ctx context.Context, userID UserID, in AccountInput) (Account, error) {
	if err := in.validate(); err != nil {
		return Account{}, err
	}
	now := e.clock.Now()
	acct := Account{
		ID:             AccountID(e.newID()),
		UserID:         userID,
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		Balance:        in.OpeningBalance,
		OpeningBalance: in.OpeningBalance,
		Color:          in.Color,
		Icon:           in.Icon,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, storeErr("create account", err)
	}
	e.log.Info().
		Str("user_id", string(userID)).
		Str("account_id", string(acct.ID)).
		Str("opening_balance", acct.OpeningBalance.StringFixed(Scale)).
		Msg("account created")
	return acct, nil
}

func (e *Engine) GetAccount(ctx context.Context, userID UserID, id AccountID) (Account, error) {
	acct, err := e.store.GetAccount(ctx, userID, id)
	if err != nil {
		return Account{}, storeErr("load account", err)
	}
	return acct, nil
}

func (e *Engine) ListAccounts(ctx context.Context, userID UserID) ([]Account, error) {
	accts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	if accts == nil {
		accts = []Account{}
	}
	return accts, nil
}

// DeleteAccount removes an account nothing references. Accounts with
// transactions are refused with ErrAccountInUse; there is no cascade.
func (e *Engine) DeleteAccount(ctx context.Context, userID UserID, id AccountID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetAccount(ctx, userID, id); err != nil {
			return storeErr("load account", err)
		}
		txs, err := s.TransactionsForAccount(ctx, userID, id)
		if err != nil {
			return storeErr("load account transactions", err)
		}
		if len(txs) > 0 {
			return ErrAccountInUse
		}
		return storeErr("delete account", s.DeleteAccount(ctx, userID, id))
	})
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (e *Engine) CreateCategory(ctx context.Context, userID UserID, in CategoryInput) (Category, error) {
	if err := in.validate(); err != nil {
		return Category{}, err
	}
	cat := Category{
		ID:        CategoryID(e.newID()),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Kind:      in.Kind,
		Color:     in.Color,
		Icon:      in.Icon,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.CreateCategory(ctx, cat); err != nil {
		return Category{}, storeErr("create category", err)
	}
	return cat, nil
}

func (e *Engine) ListCategories(ctx context.Context, userID UserID) ([]Category, error) {
	cats, err := e.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, storeErr("list categories", err)
	}
	if cats == nil {
		cats = []Category{}
	}
	return cats, nil
}
