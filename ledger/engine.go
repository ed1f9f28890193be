/*
engine.go - Transaction create/update/delete protocol

PURPOSE:
  The Engine is the only component that mutates account balances. Each
  mutation validates its input, then runs every read and write inside one
  TxStore.WithTx unit of work.

PROTOCOL:
  Create:  insert record -> apply Effect(new)
  Update:  load stored -> reverse Effect(stored) -> apply Effect(edited)
           -> persist record
  Delete:  load stored -> reverse Effect(stored) -> remove record

WHY REVERSE-THEN-APPLY?
  An edit may move an expense to a different account. A net delta on one
  account would be wrong once the account identity changes, so the stored
  effect is always undone in full and the edited effect applied in full.
  The two posting sets are folded per account (Net) before hitting the
  store, so an edit on the same account costs one write, not two.

TYPE IS IMMUTABLE:
  Update keeps the stored type. An UpdateInput that names a different
  type is rejected with ErrTypeChange rather than silently ignored.

FAILURE:
  Validation errors return before any write. Any store error inside the
  unit of work rolls back everything already written in it.

EVENTS:
  Published only after commit. A publish failure is logged and dropped.

SEE ALSO:
  - effect.go: Effect, Reversal, Net
  - input.go: Validation
  - store.go: TxStore contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     TxStore
	clock     Clock
	publisher Publisher
	log       zerolog.Logger
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for the future-date rule.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "ledger").Logger() }
}

// WithIDGenerator overrides uuid-based ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		clock:     SystemClock{},
		publisher: NopPublisher{},
		log:       zerolog.Nop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// CREATE
// =============================================================================

// Create records a new transaction and applies its effect.
func (e *Engine) Create(ctx context.Context, userID UserID, in CreateInput) (Transaction, error) {
	now := e.clock.Now()
	if err := in.validate(now); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:          TransactionID(e.newID()),
		UserID:      userID,
		Type:        in.Type,
		Amount:      in.Amount,
		Date:        in.Date.UTC(),
		Description: cleanDescription(in.Description),
		CategoryID:  in.CategoryID,
		AccountID:   in.AccountID,
		ToAccountID: in.ToAccountID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.normalize()
	postings := Net(Effect(tx))

	err := e.store.WithTx(ctx, func(s Store) error {
		if err := checkReferences(ctx, s, tx); err != nil {
			return err
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return storeErr("insert transaction", err)
		}
		return applyPostings(ctx, s, userID, postings, now)
	})
	if err != nil {
		return Transaction{}, err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("transaction_id", string(tx.ID)).
		Str("type", string(tx.Type)).
		Str("amount", tx.Amount.StringFixed(Scale)).
		Msg("transaction created")

	e.publish(ctx, Event{
		Kind:          EventTransactionCreated,
		UserID:        userID,
		TransactionID: tx.ID,
		Type:          tx.Type,
		Postings:      postings,
		OccurredAt:    now,
	})
	return tx, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update edits amount, date, description and account references of a
// transaction. Its stored effect is reversed and the edited effect applied.
func (e *Engine) Update(ctx context.Context, userID UserID, id TransactionID, in UpdateInput) (Transaction, error) {
	now := e.clock.Now()
	if err := in.validateStateless(now); err != nil {
		return Transaction{}, err
	}

	var (
		updated  Transaction
		postings []Posting
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		stored, err := s.GetTransaction(ctx, userID, id)
		if err != nil {
			return storeErr("load transaction", err)
		}
		if err := in.validate(stored.Type, now); err != nil {
			return err
		}

		next := stored
		next.Amount = in.Amount
		next.Date = in.Date.UTC()
		next.Description = cleanDescription(in.Description)
		next.AccountID = in.AccountID
		next.ToAccountID = in.ToAccountID
		next.CategoryID = in.CategoryID
		next.UpdatedAt = now
		next.normalize()

		if err := checkReferences(ctx, s, next); err != nil {
			return err
		}

		postings = Net(Reversal(stored), Effect(next))
		if err := applyPostings(ctx, s, userID, postings, now); err != nil {
			return err
		}
		if err := s.UpdateTransaction(ctx, next); err != nil {
			return storeErr("update transaction", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("transaction_id", string(id)).
		Str("amount", updated.Amount.StringFixed(Scale)).
		Int("postings", len(postings)).
		Msg("transaction updated")

	e.publish(ctx, Event{
		Kind:          EventTransactionUpdated,
		UserID:        userID,
		TransactionID: id,
		Type:          updated.Type,
		Postings:      postings,
		OccurredAt:    now,
	})
	return updated, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete reverses a transaction's effect and removes the record.
func (e *Engine) Delete(ctx context.Context, userID UserID, id TransactionID) error {
	now := e.clock.Now()
	var (
		removed  Transaction
		postings []Posting
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		stored, err := s.GetTransaction(ctx, userID, id)
		if err != nil {
			return storeErr("load transaction", err)
		}
		postings = Net(Reversal(stored))
		if err := applyPostings(ctx, s, userID, postings, now); err != nil {
			return err
		}
		if err := s.DeleteTransaction(ctx, userID, id); err != nil {
			return storeErr("delete transaction", err)
		}
		removed = stored
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("user_id", string(userID)).
		Str("transaction_id", string(id)).
		Msg("transaction deleted")

	e.publish(ctx, Event{
		Kind:          EventTransactionDeleted,
		UserID:        userID,
		TransactionID: id,
		Type:          removed.Type,
		Postings:      postings,
		OccurredAt:    now,
	})
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns a single transaction owned by userID.
func (e *Engine) Get(ctx context.Context, userID UserID, id TransactionID) (Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return Transaction{}, storeErr("load transaction", err)
	}
	return tx, nil
}

// List returns denormalized transactions newest first. Read-only.
func (e *Engine) List(ctx context.Context, userID UserID, filter Filter) ([]TransactionView, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, filter.Type)
	}
	views, err := e.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	if views == nil {
		views = []TransactionView{}
	}
	return views, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkReferences verifies the caller owns every account and category the
// transaction points at.
func checkReferences(ctx context.Context, s Store, tx Transaction) error {
	if _, err := s.GetAccount(ctx, tx.UserID, tx.AccountID); err != nil {
		return storeErr("load account", err)
	}
	if tx.Type == TypeTransfer {
		if _, err := s.GetAccount(ctx, tx.UserID, tx.ToAccountID); err != nil {
			return storeErr("load destination account", err)
		}
	}
	if tx.CategoryID != nil {
		if _, err := s.GetCategory(ctx, tx.UserID, *tx.CategoryID); err != nil {
			return storeErr("load category", err)
		}
	}
	return nil
}

// applyPostings issues one relative adjustment per posting, stamped at.
// A posting that would move a balance past MaxBalance aborts the unit of
// work before anything is written for that account.
func applyPostings(ctx context.Context, s Store, userID UserID, postings []Posting, at time.Time) error {
	for _, p := range postings {
		acct, err := s.GetAccount(ctx, userID, p.AccountID)
		if err != nil {
			return storeErr("load account", err)
		}
		if next := acct.Balance.Add(p.Delta); next.Abs().GreaterThan(MaxBalance) {
			return &BalanceLimitError{AccountID: p.AccountID, Balance: next}
		}
		if err := s.AdjustBalance(ctx, userID, p.AccountID, p.Delta, at); err != nil {
			return storeErr(fmt.Sprintf("adjust balance of %s", p.AccountID), err)
		}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn().
			Err(err).
			Str("event", string(ev.Kind)).
			Str("transaction_id", string(ev.TransactionID)).
			Msg("failed to publish ledger event")
	}
}
