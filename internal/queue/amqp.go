package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// ErrConsumerLost is returned by Receive when the broker closed the consumer.
// The next Receive reconnects.
var ErrConsumerLost = errors.New("amqp consumer lost")

type amqpConsumer struct {
	ch   *amqp.Channel
	msgs <-chan amqp.Delivery
}

// AMQP publishes entries to a direct exchange, one durable queue per channel.
// Consumers use manual ack, so unacked entries return to the queue when the
// connection drops. A dropped connection is redialled on the next call.
type AMQP struct {
	url      string
	exchange string
	prefetch int
	dial     func(url string) (*amqp.Connection, error)

	mu        sync.Mutex
	conn      *amqp.Connection
	pub       *amqp.Channel
	declared  map[string]bool
	consumers map[string]*amqpConsumer
	closed    bool
}

// NewAMQP connects to url and declares the exchange.
func NewAMQP(url, exchange string, prefetch int) (*AMQP, error) {
	if exchange == "" {
		exchange = "ledgerly.jobs"
	}
	if prefetch < 1 {
		prefetch = 1
	}
	q := &AMQP{
		url:       url,
		exchange:  exchange,
		prefetch:  prefetch,
		dial:      amqp.Dial,
		declared:  make(map[string]bool),
		consumers: make(map[string]*amqpConsumer),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// connect must be called with q.mu held. It is a no-op while the current
// connection is open.
func (q *AMQP) connect() error {
	if q.conn != nil && !q.conn.IsClosed() {
		return nil
	}
	q.reset()

	conn, err := q.dial(q.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		q.exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}
	q.conn = conn
	q.pub = ch
	return nil
}

// reset drops every channel of the current connection. Must be called with
// q.mu held.
func (q *AMQP) reset() {
	for name, c := range q.consumers {
		_ = c.ch.Close()
		delete(q.consumers, name)
	}
	if q.pub != nil {
		_ = q.pub.Close()
		q.pub = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
	q.declared = make(map[string]bool)
}

func (q *AMQP) queueName(channel string) string {
	return q.exchange + "." + channel
}

// declare must be called with q.mu held.
func (q *AMQP) declare(ch *amqp.Channel, channel string) error {
	name := q.queueName(channel)
	if _, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("amqp queue declare %s: %w", name, err)
	}
	if err := ch.QueueBind(
		name,
		channel,
		q.exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("amqp queue bind %s: %w", name, err)
	}
	q.declared[channel] = true
	return nil
}

// publisher must be called with q.mu held.
func (q *AMQP) publisher() (*amqp.Channel, error) {
	if err := q.connect(); err != nil {
		return nil, err
	}
	if q.pub == nil || q.pub.IsClosed() {
		ch, err := q.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("amqp channel: %w", err)
		}
		q.pub = ch
	}
	return q.pub, nil
}

func (q *AMQP) Push(ctx context.Context, channel string, e Entry) error {
	body, err := e.encode()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	pub, err := q.publisher()
	if err != nil {
		return err
	}
	if !q.declared[channel] {
		if err := q.declare(pub, channel); err != nil {
			return err
		}
	}
	err = pub.PublishWithContext(ctx,
		q.exchange,
		channel,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		_ = pub.Close()
		q.pub = nil
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (q *AMQP) consumer(channel string) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if err := q.connect(); err != nil {
		return nil, err
	}
	if c, ok := q.consumers[channel]; ok && !c.ch.IsClosed() {
		return c.msgs, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	if err := q.declare(ch, channel); err != nil {
		_ = ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(
		q.queueName(channel),
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.consumers[channel] = &amqpConsumer{ch: ch, msgs: msgs}
	return msgs, nil
}

// lost forgets the consumer of channel after the broker closed it.
func (q *AMQP) lost(channel string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if c, ok := q.consumers[channel]; ok {
		_ = c.ch.Close()
		delete(q.consumers, channel)
	}
	return ErrConsumerLost
}

func (q *AMQP) Receive(ctx context.Context, channel string) (*Delivery, error) {
	msgs, err := q.consumer(channel)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil, q.lost(channel)
			}
			e, err := decodeEntry(msg.Body)
			if err != nil {
				log.Error().Str("component", "queue.amqp").Err(err).Msg("dropping malformed entry")
				_ = msg.Nack(false, false)
				continue
			}
			return NewDelivery(channel, e,
				func(context.Context) error { return msg.Ack(false) },
				func(context.Context) error { return msg.Nack(false, true) },
			), nil
		}
	}
}

func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.reset()
	return nil
}
