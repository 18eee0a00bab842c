package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-myclean/internal/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()

	select {
	case env, ok := <-ch:
		require.True(t, ok, "expected channel to be open")
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestHub_PublishReachesEveryBroker(t *testing.T) {
	hub := NewHub()
	a, b := hub.Broker(), hub.Broker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA, err := a.Subscribe(ctx)
	require.NoError(t, err)
	subB, err := b.Subscribe(ctx)
	require.NoError(t, err)

	env := Envelope{Origin: "node-a", UserIds: []int{7}, Payload: json.RawMessage(`{"event":"message:new"}`)}
	require.NoError(t, a.Publish(ctx, env))

	assert.Equal(t, env, receive(t, subA))
	assert.Equal(t, env, receive(t, subB))
}

func TestMemoryBroker_Close(t *testing.T) {
	hub := NewHub()
	a, b := hub.Broker(), hub.Broker()
	ctx, cancel := context.WithCancel(context.Background())

	subA, err := a.Subscribe(ctx)
	require.NoError(t, err)

	_, err = a.Subscribe(ctx)
	assert.Error(t, err, "expected a second subscription to fail")

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-subA:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, a.Publish(context.Background(), Envelope{}), ErrClosed)
	assert.NoError(t, b.Publish(context.Background(), Envelope{Origin: "node-b"}), "closing one broker must not affect others")
	assert.NoError(t, a.Close())
}

func TestDecodeDelivery(t *testing.T) {
	msg, err := encodeEnvelope(Envelope{Origin: "node-a", UserIds: []int{7, 9}, Payload: json.RawMessage(`{"id":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)

	env, err := decodeDelivery(amqp.Delivery{Body: msg.Body})
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.Origin)
	assert.Equal(t, []int{7, 9}, env.UserIds)
	assert.JSONEq(t, `{"id":1}`, string(env.Payload))

	_, err = decodeDelivery(amqp.Delivery{Body: []byte("not json")})
	assert.Error(t, err)

	_, err = decodeDelivery(amqp.Delivery{Body: []byte(`{"origin":"node-a","user_ids":[]}`)})
	assert.Error(t, err, "expected envelope without recipients to be rejected")
}

func TestMemoryBroker_CloseWithoutCancel(t *testing.T) {
	before := runtime.NumGoroutine()

	b := NewHub().Broker()
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close())
	_, ok := <-sub
	assert.False(t, ok, "expected the subscription to be closed")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond, "subscription watcher still running")
}

func closed(ch <-chan Envelope) func() bool {
	return func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}
}

func delivery(t *testing.T, env Envelope) amqp.Delivery {
	t.Helper()
	msg, err := encodeEnvelope(env)
	require.NoError(t, err)
	return amqp.Delivery{Body: msg.Body}
}

func TestAMQPBroker_ResubscribesAfterConnectionLoss(t *testing.T) {
	feeds := []chan amqp.Delivery{make(chan amqp.Delivery, 1), make(chan amqp.Delivery, 1)}
	var (
		mu         sync.Mutex
		consumed   int
		reconnects atomic.Int32
	)

	b := &AMQPBroker{
		log:        testutil.TestLogger(t),
		done:       make(chan struct{}),
		retryDelay: time.Millisecond,
		reconnect: func() error {
			reconnects.Add(1)
			return nil
		},
		consume: func(ctx context.Context) (<-chan amqp.Delivery, error) {
			mu.Lock()
			defer mu.Unlock()
			if consumed == len(feeds) {
				return nil, errors.New("no queue")
			}
			consumed++
			return feeds[consumed-1], nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)

	before := Envelope{Origin: "node-b", UserIds: []int{7}, Payload: json.RawMessage(`{"id":1}`)}
	feeds[0] <- delivery(t, before)
	assert.Equal(t, before, receive(t, sub))

	// The connection drops.
	close(feeds[0])

	after := Envelope{Origin: "node-b", UserIds: []int{9}, Payload: json.RawMessage(`{"id":2}`)}
	feeds[1] <- delivery(t, after)
	assert.Equal(t, after, receive(t, sub))
	assert.Equal(t, int32(1), reconnects.Load())

	require.NoError(t, b.Close())
	close(feeds[1])
	assert.Eventually(t, closed(sub), time.Second, 10*time.Millisecond)
}

func TestAMQPBroker_CloseStopsReconnecting(t *testing.T) {
	feed := make(chan amqp.Delivery)
	var reconnects atomic.Int32

	b := &AMQPBroker{
		log:        testutil.TestLogger(t),
		done:       make(chan struct{}),
		retryDelay: time.Millisecond,
		reconnect: func() error {
			reconnects.Add(1)
			return errors.New("connection refused")
		},
		consume: func(ctx context.Context) (<-chan amqp.Delivery, error) {
			return feed, nil
		},
	}

	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	close(feed)

	assert.Eventually(t, func() bool { return reconnects.Load() >= 2 }, time.Second, time.Millisecond,
		"expected repeated reconnect attempts")

	require.NoError(t, b.Close())
	assert.Eventually(t, closed(sub), time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.Publish(context.Background(), Envelope{Origin: "node-a"}), ErrClosed)
}
