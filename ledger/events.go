package ledger

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Published after a unit of work commits
// =============================================================================

type EventKind string

const (
	EventTransactionCreated EventKind = "transaction.created"
	EventTransactionUpdated EventKind = "transaction.updated"
	EventTransactionDeleted EventKind = "transaction.deleted"
)

// Event describes a committed mutation. Postings are the net balance
// deltas the mutation applied, one per account.
type Event struct {
	Kind          EventKind
	UserID        UserID
	TransactionID TransactionID
	Type          Type
	Postings      []Posting
	OccurredAt    time.Time
}

// Publisher delivers events to downstream consumers. Publish errors are
// logged by the engine and never undo the committed mutation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
