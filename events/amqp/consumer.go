package amqp

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Handler processes one decoded ledger event. Returning an error requeues
// the delivery.
type Handler func(ctx context.Context, msg EventMessage) error

// Consumer reads ledger events from a durable queue bound to the ledger
// exchange.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	log     zerolog.Logger
}

// NewConsumer dials url, declares the exchange and a durable queue, and
// binds the queue to every event under routingKey.
func NewConsumer(url, exchange, routingKey, queue string, log zerolog.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(step string, err error) (*Consumer, error) {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}

	q, err := channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fail("declare queue", err)
	}

	if err := channel.QueueBind(q.Name, BindingKey(routingKey), exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		queue:   q.Name,
		log:     log.With().Str("component", "amqp").Str("queue", q.Name).Logger(),
	}, nil
}

// Consume delivers events to handler until ctx is cancelled or the
// channel closes. Malformed bodies are dropped; handler failures are
// requeued.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.log.Info().Msg("consuming ledger events")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("stopped consuming ledger events")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, d, handler)
		}
	}
}

// handle decodes one delivery, runs handler and settles the delivery.
func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery, handler Handler) {
	msg, err := DecodeEvent(d.Body)
	if err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("dropping malformed ledger event")
		if err := d.Nack(false, false); err != nil {
			c.log.Error().Err(err).Msg("nack failed")
		}
		return
	}

	if err := handler(ctx, msg); err != nil {
		c.log.Error().
			Err(err).
			Str("event", msg.Kind).
			Str("transaction_id", msg.TransactionID).
			Msg("ledger event handler failed, requeueing")
		if err := d.Nack(false, true); err != nil {
			c.log.Error().Err(err).Msg("nack failed")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Msg("ack failed")
	}
}

// Close closes the channel and the connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// BindingKey matches every event published under prefix.
func BindingKey(prefix string) string {
	if prefix == "" {
		return "#"
	}
	return prefix + ".#"
}
