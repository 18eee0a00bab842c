// Package fanout carries live events between gateway processes. Each
// gateway delivers to its own connections and publishes the same event so
// that peers can deliver to theirs.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrClosed = errors.New("fanout: broker closed")

// Envelope is one event addressed to a set of users.
type Envelope struct {
	// Origin identifies the publishing gateway so it can skip its own
	// events.
	Origin  string `json:"origin"`
	UserIds []int  `json:"user_ids"`
	// BookingId, when set, limits delivery to connections that joined the
	// booking's conversation.
	BookingId int             `json:"booking_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe returns a channel of envelopes published by any gateway,
	// including this one. The channel is closed when ctx is done or the
	// broker is closed.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

// Hub connects in-process brokers. It stands in for a message bus when
// several gateways run in one process.
type Hub struct {
	mu      sync.RWMutex
	brokers map[*MemoryBroker]struct{}
}

func NewHub() *Hub {
	return &Hub{brokers: make(map[*MemoryBroker]struct{})}
}

// Broker returns a new broker attached to the hub.
func (h *Hub) Broker() *MemoryBroker {
	b := &MemoryBroker{
		hub:  h,
		out:  make(chan Envelope, 256),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.brokers[b] = struct{}{}
	h.mu.Unlock()

	return b
}

func (h *Hub) publish(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for b := range h.brokers {
		b.deliver(env)
	}
}

func (h *Hub) remove(b *MemoryBroker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.brokers, b)
}

type MemoryBroker struct {
	hub        *Hub
	mu         sync.Mutex
	out        chan Envelope
	done       chan struct{}
	subscribed bool
	closed     bool
}

func (b *MemoryBroker) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.hub.publish(env)
	return nil
}

// deliver drops the envelope when the subscriber is not keeping up.
func (b *MemoryBroker) deliver(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	select {
	case b.out <- env:
	default:
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.subscribed {
		return nil, errors.New("fanout: already subscribed")
	}
	b.subscribed = true

	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.done:
		}
	}()

	return b.out, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.out)
	close(b.done)
	b.mu.Unlock()

	// hub.publish holds the hub lock while taking b.mu, so the hub lock
	// must not be taken under b.mu.
	b.hub.remove(b)
	return nil
}
