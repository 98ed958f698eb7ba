// Package events publishes domain events to RabbitMQ.
//
// Every event is sent to a topic exchange with the routing key
// "<channel>.<event>", e.g. "orders.order.created", so consumers can bind
// to a whole channel ("orders.#") or to a single event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const contentType = "application/json"

// publisher is the subset of *amqp.Channel used to send events.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP emits events to a RabbitMQ topic exchange.
type AMQP struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	now      func() time.Time
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

// Emit publishes payload as a persistent message. Payload must be JSON
// serialisable.
func (d *AMQP) Emit(ctx context.Context, channel, event string, payload any) error {
	body, id, err := encodeEnvelope(channel, event, payload, d.now())
	if err != nil {
		return err
	}
	err = d.ch.PublishWithContext(ctx, d.exchange, RoutingKey(channel, event), false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    d.now(),
		Type:         event,
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", RoutingKey(channel, event))
	}
	return nil
}

// Check reports whether the broker connection is still open.
func (d *AMQP) Check(context.Context) error {
	if d.conn == nil || d.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the broker connection and its channel.
func (d *AMQP) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// RoutingKey returns the topic routing key for event on channel.
func RoutingKey(channel, event string) string {
	return channel + "." + event
}

// encodeEnvelope wraps payload with its routing metadata and returns the
// encoded body together with the generated message id.
func encodeEnvelope(channel, event string, payload any, at time.Time) ([]byte, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", errors.Wrapf(err, "encode %s payload", event)
	}
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart("channel")
	e.Str(channel)
	e.FieldStart("event")
	e.Str(event)
	e.FieldStart("occurredAt")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.FieldStart("payload")
	e.Raw(raw)
	e.ObjEnd()
	return e.Bytes(), id, nil
}

// Log is a dispatcher that only writes events to the request logger. It is
// used when no broker is configured.
type Log struct{}

// Emit logs the event at debug level.
func (Log) Emit(ctx context.Context, channel, event string, payload any) error {
	zctx.From(ctx).Debug("Event",
		zap.String("routing_key", RoutingKey(channel, event)),
		zap.Any("payload", payload),
	)
	return nil
}
