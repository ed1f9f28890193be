// Package amqp publishes committed ledger events to a RabbitMQ exchange and
// consumes them from a bound queue.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
)

const publishTimeout = 5 * time.Second

// Publisher implements ledger.Publisher over one AMQP channel. Channels
// are not safe for concurrent publishing, so Publish serializes.
type Publisher struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	log        zerolog.Logger

	mu sync.Mutex
}

var _ ledger.Publisher = (*Publisher)(nil)

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange, routingKey string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log.With().Str("component", "amqp").Logger(),
	}, nil
}

// Publish sends ev as a persistent JSON message. The routing key is the
// configured prefix followed by the event kind, e.g.
// "ledger.events.transaction.created".
func (p *Publisher) Publish(ctx context.Context, ev ledger.Event) error {
	body, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		RoutingKey(p.routingKey, ev.Kind),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    string(ev.TransactionID),
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Kind),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}

	p.log.Debug().
		Str("event", string(ev.Kind)).
		Str("transaction_id", string(ev.TransactionID)).
		Msg("published ledger event")
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey joins the configured prefix and the event kind.
func RoutingKey(prefix string, kind ledger.EventKind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}
