package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const routingKey = "myclean.deliver"

const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// AMQPBroker fans envelopes out over a RabbitMQ topic exchange. Every
// gateway binds its own exclusive, auto-deleted queue, so each published
// envelope reaches every live gateway once. When the connection drops the
// subscription redials and binds a fresh queue; envelopes published while
// disconnected are lost.
type AMQPBroker struct {
	url      string
	exchange string
	log      *log.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	closed bool
	done   chan struct{}

	retryDelay time.Duration
	reconnect  func() error
	consume    func(ctx context.Context) (<-chan amqp.Delivery, error)
}

func DialAMQP(url, exchange string, logger *log.Logger) (*AMQPBroker, error) {
	b := &AMQPBroker{
		url:        url,
		exchange:   exchange,
		log:        logger,
		done:       make(chan struct{}),
		retryDelay: minRetryDelay,
	}
	b.reconnect = b.connect
	b.consume = b.consumeQueue

	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// connect opens a connection and channel, declares the exchange and binds
// a new exclusive queue, then swaps them in for the current ones.
func (b *AMQPBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, b.exchange, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("bind %s: %w", routingKey, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = conn.Close()
		return ErrClosed
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn, b.ch, b.queue = conn, ch, q.Name
	return nil
}

func (b *AMQPBroker) consumeQueue(ctx context.Context) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	ch, queue := b.ch, b.queue
	b.mu.Unlock()

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, env Envelope) error {
	msg, err := encodeEnvelope(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, msg)
}

// Subscribe consumes the gateway's queue. The returned channel survives
// reconnects and is closed only when ctx is done or the broker is closed.
func (b *AMQPBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	deliveries, err := b.consume(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, 256)
	go b.pump(ctx, deliveries, out)
	return out, nil
}

func (b *AMQPBroker) pump(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- Envelope) {
	defer close(out)
	for {
		for d := range deliveries {
			env, err := decodeDelivery(d)
			if err != nil {
				b.log.Printf("fanout: dropping delivery: %v", err)
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil || b.isClosed() {
			return
		}
		b.log.Println("fanout: subscription lost, reconnecting")
		if deliveries = b.resubscribe(ctx); deliveries == nil {
			return
		}
	}
}

// resubscribe retries with exponential backoff until it consumes again.
// It returns nil when ctx is done or the broker is closed first.
func (b *AMQPBroker) resubscribe(ctx context.Context) <-chan amqp.Delivery {
	delay := b.retryDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)

		if err := b.reconnect(); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			b.log.Printf("fanout: reconnect: %v", err)
			continue
		}
		deliveries, err := b.consume(ctx)
		if err != nil {
			b.log.Printf("fanout: %v", err)
			continue
		}

		b.log.Println("fanout: resubscribed")
		return deliveries
	}
}

func (b *AMQPBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func encodeEnvelope(env Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}, nil
}

func decodeDelivery(d amqp.Delivery) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Origin == "" || len(env.UserIds) == 0 || len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("incomplete envelope from %q", env.Origin)
	}

	return env, nil
}
