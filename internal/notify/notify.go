// Package notify dispatches best-effort order-confirmation messages to the
// external email service via a durable AMQP queue.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
)

// confirmationQueue is consumed by the email renderer, which owns templates
// and delivery.
const confirmationQueue = "order.confirmation"

// Confirmation carries the full pricing breakdown for the order email.
type Confirmation struct {
	OrderID        string             `json:"orderId"`
	OrderNumber    string             `json:"orderNumber"`
	Email          string             `json:"email"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	Tax            decimal.Decimal    `json:"tax"`
	ShippingCost   decimal.Decimal    `json:"shippingCost"`
	DiscountAmount decimal.Decimal    `json:"discountAmount"`
	Total          decimal.Decimal    `json:"total"`
	Items          []ConfirmationItem `json:"items"`
}

// ConfirmationItem is a single order line in the confirmation email.
type ConfirmationItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	IsDigital bool            `json:"isDigital"`
}

// Notifier sends order confirmations. Failures are the caller's to log and
// swallow: the order is already committed when a confirmation is dispatched.
type Notifier interface {
	OrderConfirmed(ctx context.Context, c Confirmation) error
}

// AMQPNotifier publishes confirmations to a durable queue.
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ Notifier = (*AMQPNotifier)(nil)

// NewAMQPNotifier connects to the broker and declares the confirmation queue.
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	if _, err := ch.QueueDeclare(
		confirmationQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", confirmationQueue)
	}

	return &AMQPNotifier{conn: conn, channel: ch}, nil
}

// OrderConfirmed publishes the confirmation as a persistent JSON message.
// The amqp client has no context support; the ctx deadline is honoured by
// the caller bounding the whole side-effect phase.
func (n *AMQPNotifier) OrderConfirmed(ctx context.Context, c Confirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal confirmation")
	}

	err = n.channel.Publish(
		"", // default exchange
		confirmationQueue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrap(err, "publish confirmation")
	}
	return nil
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() error {
	var errs []error
	if err := n.channel.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close channel"))
	}
	if err := n.conn.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close connection"))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Nop is a Notifier that does nothing, used when no broker is configured.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) OrderConfirmed(context.Context, Confirmation) error { return nil }
