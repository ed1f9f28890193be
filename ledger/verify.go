/*
verify.go - Balance consistency check

PURPOSE:
  Answers "is this account's stored balance what its transactions say it
  should be?" by replaying every transaction that touches the account on
  top of the opening balance.

  expected = OpeningBalance + Σ effect(t, account)
  drift    = stored - expected

  A non-zero drift means a balance was written outside the engine or a
  unit of work was not atomic. Verify never writes.
*/
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Reconciliation is the result of replaying an account's transactions.
type Reconciliation struct {
	UserID       UserID
	AccountID    AccountID
	Stored       decimal.Decimal
	Expected     decimal.Decimal
	Drift        decimal.Decimal
	Transactions int
}

// Consistent reports whether the stored balance matches the replay.
func (r Reconciliation) Consistent() bool {
	return r.Drift.IsZero()
}

// Replay computes the expected balance of acct from txs.
func Replay(acct Account, txs []Transaction) Reconciliation {
	expected := acct.OpeningBalance
	count := 0
	for _, tx := range txs {
		if !tx.Touches(acct.ID) {
			continue
		}
		count++
		for _, p := range Effect(tx) {
			if p.AccountID == acct.ID {
				expected = expected.Add(p.Delta)
			}
		}
	}
	return Reconciliation{
		UserID:       acct.UserID,
		AccountID:    acct.ID,
		Stored:       acct.Balance,
		Expected:     expected,
		Drift:        acct.Balance.Sub(expected),
		Transactions: count,
	}
}

// Verify replays an account inside one unit of work so the balance and
// the transactions are read from the same state.
func (e *Engine) Verify(ctx context.Context, userID UserID, id AccountID) (Reconciliation, error) {
	var rec Reconciliation
	err := e.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, userID, id)
		if err != nil {
			return storeErr("load account", err)
		}
		txs, err := s.TransactionsForAccount(ctx, userID, id)
		if err != nil {
			return storeErr("load account transactions", err)
		}
		rec = Replay(acct, txs)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Consistent() {
		e.log.Warn().
			Str("user_id", string(userID)).
			Str("account_id", string(id)).
			Str("stored", rec.Stored.StringFixed(Scale)).
			Str("expected", rec.Expected.StringFixed(Scale)).
			Msg("account balance drift detected")
	}
	return rec, nil
}

// VerifyAll replays every account of every user, one unit of work per
// account. It returns the reconciliations that drifted.
func (e *Engine) VerifyAll(ctx context.Context) ([]Reconciliation, error) {
	accts, err := e.store.AllAccounts(ctx)
	if err != nil {
		return nil, storeErr("list all accounts", err)
	}

	var drifted []Reconciliation
	for _, acct := range accts {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}
		rec, err := e.Verify(ctx, acct.UserID, acct.ID)
		if errors.Is(err, ErrAccountNotFound) {
			continue // deleted since the listing
		}
		if err != nil {
			return drifted, err
		}
		if !rec.Consistent() {
			drifted = append(drifted, rec)
		}
	}
	return drifted, nil
}
