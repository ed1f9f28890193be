package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POSTINGS - Signed balance deltas of a transaction
// =============================================================================

// Posting is one (account, signed delta) pair of a transaction's effect.
type Posting struct {
	AccountID AccountID
	Delta     decimal.Decimal
}

// Effect returns the postings tx applies to its accounts:
//
//	income:   +amount -> AccountID
//	expense:  -amount -> AccountID
//	transfer: -amount -> AccountID, +amount -> ToAccountID
func Effect(tx Transaction) []Posting {
	switch tx.Type {
	case TypeIncome:
		return []Posting{{AccountID: tx.AccountID, Delta: tx.Amount}}
	case TypeExpense:
		return []Posting{{AccountID: tx.AccountID, Delta: tx.Amount.Neg()}}
	case TypeTransfer:
		return []Posting{
			{AccountID: tx.AccountID, Delta: tx.Amount.Neg()},
			{AccountID: tx.ToAccountID, Delta: tx.Amount},
		}
	}
	return nil
}

// Reversal returns the postings that undo Effect(tx).
func Reversal(tx Transaction) []Posting {
	postings := Effect(tx)
	for i := range postings {
		postings[i].Delta = postings[i].Delta.Neg()
	}
	return postings
}

// Net folds postings into one delta per account, ordered by account ID.
// Accounts whose deltas cancel out are kept with a zero delta so the store
// still verifies they exist for the caller.
//
// Adjusting accounts in a fixed order keeps two units of work touching the
// same pair of accounts from acquiring row locks in opposite orders.
func Net(groups ...[]Posting) []Posting {
	totals := make(map[AccountID]decimal.Decimal)
	for _, group := range groups {
		for _, p := range group {
			totals[p.AccountID] = totals[p.AccountID].Add(p.Delta)
		}
	}

	out := make([]Posting, 0, len(totals))
	for id, delta := range totals {
		out = append(out, Posting{AccountID: id, Delta: delta})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Sum returns the total of all deltas. Zero for any transfer.
func Sum(postings []Posting) decimal.Decimal {
	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Delta)
	}
	return total
}
