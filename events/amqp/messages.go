package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// EventMessage is the wire form of a ledger.Event. Deltas are decimal
// strings at ledger.Scale.
type EventMessage struct {
	Kind          string           `json:"kind"`
	UserID        string           `json:"userId"`
	TransactionID string           `json:"transactionId"`
	Type          string           `json:"type"`
	Postings      []PostingMessage `json:"postings"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

type PostingMessage struct {
	AccountID string `json:"accountId"`
	Delta     string `json:"delta"`
}

// EncodeEvent converts ev to its JSON message body.
func EncodeEvent(ev ledger.Event) ([]byte, error) {
	msg := EventMessage{
		Kind:          string(ev.Kind),
		UserID:        string(ev.UserID),
		TransactionID: string(ev.TransactionID),
		Type:          string(ev.Type),
		Postings:      make([]PostingMessage, len(ev.Postings)),
		OccurredAt:    ev.OccurredAt.UTC(),
	}
	for i, p := range ev.Postings {
		msg.Postings[i] = PostingMessage{
			AccountID: string(p.AccountID),
			Delta:     p.Delta.StringFixed(ledger.Scale),
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// DecodeEvent parses a message body produced by EncodeEvent.
func DecodeEvent(body []byte) (EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return EventMessage{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return msg, nil
}

// Event converts the message back into a ledger.Event.
func (m EventMessage) Event() (ledger.Event, error) {
	ev := ledger.Event{
		Kind:          ledger.EventKind(m.Kind),
		UserID:        ledger.UserID(m.UserID),
		TransactionID: ledger.TransactionID(m.TransactionID),
		Type:          ledger.Type(m.Type),
		Postings:      make([]ledger.Posting, len(m.Postings)),
		OccurredAt:    m.OccurredAt,
	}
	for i, p := range m.Postings {
		delta, err := decimal.NewFromString(p.Delta)
		if err != nil {
			return ledger.Event{}, fmt.Errorf("posting %d delta %q: %w", i, p.Delta, err)
		}
		ev.Postings[i] = ledger.Posting{AccountID: ledger.AccountID(p.AccountID), Delta: delta}
	}
	return ev, nil
}
