package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 256
)

// ConnState is the lifecycle stage of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type Client struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	log     *log.Logger
	// verified is the identity proven by the upgrade request's token.
	verified types.Identity
	// userId is set once by identify, before the client is registered.
	userId    int
	state     atomic.Int32
	send      chan *ServerMessage
	limiter   *rate.Limiter
	convs     map[int]*conversation
	convsLock sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	stopOnce  sync.Once
	writeDone chan struct{}
}

func NewClient(verified types.Identity, conn *websocket.Conn, g *Gateway, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = "conn"
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:        id,
		conn:      conn,
		gateway:   g,
		log:       l,
		verified:  verified,
		send:      make(chan *ServerMessage, sendQueueSize),
		limiter:   rate.NewLimiter(g.eventRate, g.eventBurst),
		convs:     make(map[int]*conversation),
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	c.setState(StateAuthenticating)

	return c
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) ConnState {
	return ConnState(c.state.Swap(int32(s)))
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}

			if msg.closeCode != 0 {
				c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(msg.closeCode, msg.closeReason),
					time.Now().Add(writeWait),
				)
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("connection %s: error parsing message: %v", c.id, err)
			if c.State() == StateAuthenticating {
				c.reject(ErrInvalidMessage(0), "malformed identify")
				return
			}
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		if c.State() == StateAuthenticating {
			if !c.identify(&msg) {
				return
			}
			continue
		}

		if !c.limiter.Allow() {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}

		c.dispatch(&msg)
	}
}

// identify binds the connection to a user. It reports false when the
// connection was rejected.
func (c *Client) identify(msg *ClientMessage) bool {
	if msg.Identify == nil || msg.events() != 1 {
		c.reject(ErrResponse(msg.Id, apperror.InvalidArgumentf("identify must be the first event")), "identify required")
		return false
	}

	userId := int(msg.Identify.UserId)
	if userId <= 0 {
		c.reject(ErrResponse(msg.Id, apperror.InvalidArgumentf("user_id must be a positive integer")), "invalid user id")
		return false
	}
	if userId != c.verified.UserId {
		c.log.Printf("connection %s: identify as %d does not match token user %d", c.id, userId, c.verified.UserId)
		c.reject(ErrResponse(msg.Id, apperror.Forbiddenf("user_id does not match the authenticated user")), "identity mismatch")
		return false
	}

	c.userId = userId
	if err := c.gateway.register(c); err != nil {
		c.reject(ErrResponse(msg.Id, apperror.Wrap(apperror.Internal, err, "register connection")), "register failed")
		return false
	}
	c.setState(StateOpen)

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"user_id":       userId,
		"connection_id": c.id,
	}))
	return true
}

// reject sends msg, closes the connection with a policy violation and
// waits briefly for the writer to flush.
func (c *Client) reject(msg *ServerMessage, reason string) {
	msg.closeCode = websocket.ClosePolicyViolation
	msg.closeReason = reason
	c.queueMessage(msg)

	select {
	case <-c.writeDone:
	case <-time.After(writeWait):
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	if msg.events() != 1 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	g := c.gateway
	switch {
	case msg.Identify != nil:
		c.queueMessage(ErrResponse(msg.Id, apperror.Conflictf("connection already identified")))
	case msg.Join != nil:
		g.handleJoin(msg)
	case msg.Leave != nil:
		g.handleLeave(msg)
	case msg.SendMessage != nil:
		g.handleSendMessage(msg)
	case msg.Typing != nil:
		g.handleTyping(msg, msg.Typing, true)
	case msg.StopTyping != nil:
		g.handleTyping(msg, msg.StopTyping, false)
	case msg.MarkRead != nil:
		g.handleMarkRead(msg)
	}
}

// queueMessage never blocks. A full queue drops the frame; persisted data
// remains available through history.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("connection %s: send queue full, dropping frame", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	if msg.raw != nil {
		return msg.raw, nil
	}
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		c.cancel()
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	prev := c.setState(StateClosed)
	c.leaveAllConversations()
	if prev == StateOpen {
		c.gateway.unregister(c)
	}
	c.stopClient()
	c.gateway.removeClient(c)
}

func (c *Client) leaveAllConversations() {
	c.convsLock.RLock()
	convs := make([]*conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		convs = append(convs, conv)
	}
	c.convsLock.RUnlock()

	for _, conv := range convs {
		c.gateway.leave(c, conv)
	}
}

func (c *Client) addConversation(conv *conversation) {
	c.convsLock.Lock()
	defer c.convsLock.Unlock()
	c.convs[conv.bookingId] = conv
}

func (c *Client) delConversation(bookingId int) {
	c.convsLock.Lock()
	defer c.convsLock.Unlock()
	delete(c.convs, bookingId)
}

func (c *Client) conversation(bookingId int) *conversation {
	c.convsLock.RLock()
	defer c.convsLock.RUnlock()
	return c.convs[bookingId]
}

func (c *Client) inConversation(bookingId int) bool {
	return c.conversation(bookingId) != nil
}
