package server

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/chat"
	"github.com/npezzotti/go-myclean/internal/fanout"
	"github.com/npezzotti/go-myclean/internal/presence"
	"github.com/npezzotti/go-myclean/internal/stats"
	"github.com/npezzotti/go-myclean/internal/types"
	"golang.org/x/time/rate"
)

type Options struct {
	// EventRate and EventBurst bound the inbound events of one connection.
	EventRate  rate.Limit
	EventBurst int
	// Broker, if set, carries deliveries to and from other gateways.
	Broker fanout.Broker
}

// Gateway accepts identified websocket connections and routes events
// between them, the message channel and other gateways.
type Gateway struct {
	nodeId        string
	log           *log.Logger
	presence      *presence.Map[*Client]
	presenceLock  sync.Mutex // orders a presence edge with its broadcast
	channel       *chat.Channel
	stats         stats.StatsProvider
	broker        fanout.Broker
	eventRate     rate.Limit
	eventBurst    int
	clients       map[*Client]struct{}
	clientsLock   sync.Mutex
	conversations map[int]*conversation
	convLock      sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	stop          chan struct{}
	done          chan struct{}
}

func NewGateway(channel *chat.Channel, st stats.StatsProvider, logger *log.Logger, opts Options) *Gateway {
	if opts.EventRate <= 0 {
		opts.EventRate = 10
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		nodeId:        uuid.NewString(),
		log:           logger,
		presence:      presence.NewMap[*Client](),
		channel:       channel,
		stats:         st,
		broker:        opts.Broker,
		eventRate:     opts.EventRate,
		eventBurst:    opts.EventBurst,
		clients:       make(map[*Client]struct{}),
		conversations: make(map[int]*conversation),
		ctx:           ctx,
		cancel:        cancel,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run delivers envelopes from other gateways until Shutdown is called.
func (g *Gateway) Run() {
	var remote <-chan fanout.Envelope
	if g.broker != nil {
		var err error
		remote, err = g.broker.Subscribe(g.ctx)
		if err != nil {
			g.log.Printf("fanout subscribe: %v", err)
		}
	}

	for {
		select {
		case env, ok := <-remote:
			if !ok {
				g.log.Println("fanout subscription closed")
				remote = nil
				continue
			}
			if env.Origin == g.nodeId {
				continue
			}
			g.deliverLocal(env.UserIds, env.BookingId, rawFrame(env.Payload))
		case <-g.stop:
			g.log.Println("closing connections")
			g.clientsLock.Lock()
			for c := range g.clients {
				c.stopClient()
			}
			g.clientsLock.Unlock()

			g.cancel()
			close(g.done)
			return
		}
	}
}

// Shutdown stops Run and asks every connection to close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.log.Println("received shutdown signal")
	close(g.stop)

	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if g.broker != nil {
		return g.broker.Close()
	}
	return nil
}

// Serve runs an upgraded connection whose token proved verified.
func (g *Gateway) Serve(conn *websocket.Conn, verified types.Identity) *Client {
	c := NewClient(verified, conn, g, g.log)
	g.addClient(c)

	go c.Write()
	go c.Read()

	return c
}

func (g *Gateway) IsOnline(userId int) bool {
	return g.presence.IsOnline(userId)
}

func (g *Gateway) addClient(c *Client) {
	g.clientsLock.Lock()
	defer g.clientsLock.Unlock()

	g.clients[c] = struct{}{}
	g.stats.Incr(stats.NumActiveClients)
}

func (g *Gateway) removeClient(c *Client) {
	g.clientsLock.Lock()
	defer g.clientsLock.Unlock()

	if _, ok := g.clients[c]; ok {
		delete(g.clients, c)
		g.stats.Decr(stats.NumActiveClients)
	}
}

func (g *Gateway) register(c *Client) error {
	g.presenceLock.Lock()
	defer g.presenceLock.Unlock()

	first, err := g.presence.Register(c.userId, c)
	if err != nil {
		return err
	}

	g.log.Printf("connection %s registered for user %d", c.id, c.userId)
	if first {
		g.stats.Incr(stats.NumOnlineUsers)
		g.broadcastPresence(c.userId, true)
	}
	return nil
}

func (g *Gateway) unregister(c *Client) {
	g.presenceLock.Lock()
	defer g.presenceLock.Unlock()

	last, err := g.presence.Unregister(c.userId, c)
	if err != nil {
		g.log.Printf("connection %s: unregister: %v", c.id, err)
		return
	}

	g.log.Printf("connection %s unregistered for user %d", c.id, c.userId)
	if last {
		g.stats.Decr(stats.NumOnlineUsers)
		g.broadcastPresence(c.userId, false)
	}
}

// broadcastPresence tells the connections watching a conversation that
// involves userId that the user came online or went offline. Each
// connection is told once.
func (g *Gateway) broadcastPresence(userId int, online bool) {
	msg := newEvent(EventPresenceChanged)
	msg.Presence = &Presence{UserId: userId, Online: online}

	g.convLock.Lock()
	convs := make([]*conversation, 0, len(g.conversations))
	for _, conv := range g.conversations {
		if conv.parties.Has(userId) {
			convs = append(convs, conv)
		}
	}
	g.convLock.Unlock()

	seen := make(map[*Client]struct{})
	for _, conv := range convs {
		for _, c := range conv.observers(userId) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			c.queueMessage(msg)
		}
	}
}

// acquire returns the conversation for bookingId, creating it if needed,
// and takes a reference on it.
func (g *Gateway) acquire(bookingId int, parties chat.Participants) *conversation {
	g.convLock.Lock()
	defer g.convLock.Unlock()

	conv, ok := g.conversations[bookingId]
	if !ok {
		conv = newConversation(bookingId, parties, g.log)
		g.conversations[bookingId] = conv
		g.stats.Incr(stats.NumConversations)
	}
	conv.refs++

	return conv
}

func (g *Gateway) release(conv *conversation) {
	g.convLock.Lock()
	defer g.convLock.Unlock()

	conv.refs--
	if conv.refs == 0 {
		delete(g.conversations, conv.bookingId)
		g.stats.Decr(stats.NumConversations)
	}
}

func (g *Gateway) leave(c *Client, conv *conversation) {
	c.delConversation(conv.bookingId)
	if conv.removeClient(c) {
		g.release(conv)
	}
}

// deliver queues msg on the live connections of userIds, here and on
// every other gateway. A non-zero bookingId restricts delivery to
// connections that joined that booking's conversation.
func (g *Gateway) deliver(ctx context.Context, userIds []int, bookingId int, msg *ServerMessage) {
	payload, err := serializeMessage(msg)
	if err != nil {
		g.log.Printf("failed to serialize %s event: %v", msg.Event, err)
		return
	}

	g.deliverLocal(userIds, bookingId, rawFrame(payload))

	if g.broker != nil {
		err := g.broker.Publish(ctx, fanout.Envelope{
			Origin:    g.nodeId,
			UserIds:   userIds,
			BookingId: bookingId,
			Payload:   payload,
		})
		if err != nil {
			g.log.Printf("fanout publish %s: %v", msg.Event, err)
		}
	}
}

func (g *Gateway) deliverLocal(userIds []int, bookingId int, frame *ServerMessage) int {
	delivered := 0
	for i, userId := range userIds {
		if slices.Contains(userIds[:i], userId) {
			continue
		}

		for _, c := range g.presence.ConnectionsFor(userId) {
			if bookingId != 0 && !c.inConversation(bookingId) {
				continue
			}
			if c.queueMessage(frame) {
				delivered++
			}
		}
	}

	return delivered
}

// SendMessage persists a message and pushes message:new to every live
// connection of both parties. Sends on one booking are serialized.
func (g *Gateway) SendMessage(ctx context.Context, params chat.SendParams) (types.Message, error) {
	parties, err := g.channel.Participants(ctx, params.BookingId)
	if err != nil {
		return types.Message{}, err
	}

	conv := g.acquire(params.BookingId, parties)
	defer g.release(conv)

	conv.sendLock.Lock()
	defer conv.sendLock.Unlock()

	msg, err := g.channel.Send(ctx, params)
	if err != nil {
		return types.Message{}, err
	}

	event := newEvent(EventMessageNew)
	event.Message = &msg
	g.deliver(ctx, chat.Recipients(msg), 0, event)

	return msg, nil
}

// MarkRead marks readerId's messages on bookingId read and, if anything
// changed, pushes message:read to both parties.
func (g *Gateway) MarkRead(ctx context.Context, bookingId, readerId int) (int, error) {
	n, err := g.channel.MarkRead(ctx, bookingId, readerId)
	if err != nil || n == 0 {
		return n, err
	}

	parties, err := g.channel.Participants(ctx, bookingId)
	if err != nil {
		return n, nil
	}

	event := newEvent(EventMessageRead)
	event.Read = &ReadReceipt{BookingId: bookingId, ReaderId: readerId, Count: n}
	g.deliver(ctx, []int{parties.CustomerId, parties.ProviderId}, 0, event)

	return n, nil
}

// PublishBookingStatus pushes booking:status to both parties.
func (g *Gateway) PublishBookingStatus(ctx context.Context, b types.Booking) {
	event := newEvent(EventBookingStatus)
	event.Booking = &b
	g.deliver(ctx, []int{b.CustomerId, b.ProviderId}, 0, event)
}

// checkUser resolves an optional user id in an event against the
// identified user.
func checkUser(c *Client, ref UserRef) error {
	if ref != 0 && int(ref) != c.userId {
		return apperror.Forbiddenf("user_id does not match the identified user")
	}
	return nil
}

func (g *Gateway) handleJoin(msg *ClientMessage) {
	c := msg.client
	bookingId := msg.Join.BookingId

	if c.inConversation(bookingId) {
		c.queueMessage(NoErrOK(msg.Id, map[string]any{"booking_id": bookingId}))
		return
	}

	parties, err := g.channel.Participants(c.ctx, bookingId)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}
	if !parties.Has(c.userId) {
		c.queueMessage(ErrResponse(msg.Id, apperror.Forbiddenf("not a party to booking %d", bookingId)))
		return
	}

	conv := g.acquire(bookingId, parties)
	conv.addClient(c)
	c.addConversation(conv)

	other := parties.CustomerId
	if c.userId == parties.CustomerId {
		other = parties.ProviderId
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"booking_id":          bookingId,
		"counterparty_id":     other,
		"counterparty_online": g.presence.IsOnline(other),
		"viewers":             conv.viewers(),
	}))
}

func (g *Gateway) handleLeave(msg *ClientMessage) {
	c := msg.client
	conv := c.conversation(msg.Leave.BookingId)
	if conv == nil {
		c.queueMessage(ErrResponse(msg.Id, apperror.NotFoundf("not joined to booking %d", msg.Leave.BookingId)))
		return
	}

	g.leave(c, conv)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (g *Gateway) handleSendMessage(msg *ClientMessage) {
	c := msg.client
	sm := msg.SendMessage

	if err := checkUser(c, sm.SenderId); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	m, err := g.SendMessage(c.ctx, chat.SendParams{
		BookingId:  sm.BookingId,
		SenderId:   c.userId,
		ReceiverId: int(sm.ReceiverId),
		Content:    sm.Content,
	})
	if err != nil {
		if !apperror.Is(err, apperror.Forbidden) && !apperror.Is(err, apperror.InvalidArgument) {
			g.log.Printf("connection %s: send message: %v", c.id, err)
		}
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id, map[string]any{"message_id": m.Id}))
}

// handleTyping relays typing state to the counterparty's connections in
// the booking's conversation. Nothing is persisted and nothing is
// acknowledged on success.
func (g *Gateway) handleTyping(msg *ClientMessage, t *Typing, started bool) {
	c := msg.client

	if err := checkUser(c, t.UserId); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	parties, err := g.channel.Participants(c.ctx, t.BookingId)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}
	if !parties.Has(c.userId) {
		c.queueMessage(ErrResponse(msg.Id, apperror.Forbiddenf("not a party to booking %d", t.BookingId)))
		return
	}

	name := EventTypingStopped
	if started {
		name = EventTypingStarted
	}
	event := newEvent(name)
	event.Typing = &TypingEvent{BookingId: t.BookingId, UserId: c.userId}
	if started {
		event.Typing.DisplayName = t.DisplayName
	}

	other := parties.CustomerId
	if c.userId == parties.CustomerId {
		other = parties.ProviderId
	}
	g.deliver(c.ctx, []int{other}, t.BookingId, event)
}

func (g *Gateway) handleMarkRead(msg *ClientMessage) {
	c := msg.client
	mr := msg.MarkRead

	if err := checkUser(c, mr.UserId); err != nil {
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	n, err := g.MarkRead(c.ctx, mr.BookingId, c.userId)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			g.log.Printf("connection %s: mark read: %v", c.id, err)
		}
		c.queueMessage(ErrResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"updated": n}))
}
