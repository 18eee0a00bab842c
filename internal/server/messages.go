package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/types"
)

const (
	EventMessageNew      = "message:new"
	EventPresenceChanged = "presence:changed"
	EventTypingStarted   = "typing:started"
	EventTypingStopped   = "typing:stopped"
	EventMessageRead     = "message:read"
	EventBookingStatus   = "booking:status"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserRef is a user id that arrives either as a JSON number or as a
// numeric string.
type UserRef int

func (u *UserRef) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("user id %s: %w", s, err)
		}
		s = strings.TrimSpace(unquoted)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("user id %s is not an integer", b)
	}

	*u = UserRef(n)
	return nil
}

type ClientMessage struct {
	Id          int          `json:"id,omitempty"`
	Identify    *Identify    `json:"identify,omitempty"`
	Join        *Join        `json:"join,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	Typing      *Typing      `json:"typing,omitempty"`
	StopTyping  *Typing      `json:"stop_typing,omitempty"`
	MarkRead    *MarkRead    `json:"mark_read,omitempty"`
	Timestamp   time.Time    `json:"-"`
	client      *Client
}

// events returns how many event payloads the frame carries.
func (m *ClientMessage) events() int {
	n := 0
	for _, set := range []bool{
		m.Identify != nil,
		m.Join != nil,
		m.Leave != nil,
		m.SendMessage != nil,
		m.Typing != nil,
		m.StopTyping != nil,
		m.MarkRead != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

type Identify struct {
	UserId UserRef `json:"user_id"`
}

type Join struct {
	BookingId int `json:"booking_id"`
}

type Leave struct {
	BookingId int `json:"booking_id"`
}

type SendMessage struct {
	BookingId  int     `json:"booking_id"`
	SenderId   UserRef `json:"sender_id"`
	ReceiverId UserRef `json:"receiver_id"`
	Content    string  `json:"content"`
}

type Typing struct {
	BookingId   int     `json:"booking_id"`
	UserId      UserRef `json:"user_id"`
	DisplayName string  `json:"display_name,omitempty"`
}

type MarkRead struct {
	BookingId int     `json:"booking_id"`
	UserId    UserRef `json:"user_id"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response      `json:"response,omitempty"`
	Event    string         `json:"event,omitempty"`
	Message  *types.Message `json:"message,omitempty"`
	Presence *Presence      `json:"presence,omitempty"`
	Typing   *TypingEvent   `json:"typing,omitempty"`
	Read     *ReadReceipt   `json:"read,omitempty"`
	Booking  *types.Booking `json:"booking,omitempty"`

	// raw is an already encoded frame, used for events shared by many
	// connections and for events arriving from other gateways.
	raw []byte
	// closeCode, when set, makes the writer close the connection after
	// sending the frame.
	closeCode   int
	closeReason string
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Presence struct {
	UserId int  `json:"user_id"`
	Online bool `json:"online"`
}

type TypingEvent struct {
	BookingId   int    `json:"booking_id"`
	UserId      int    `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type ReadReceipt struct {
	BookingId int `json:"booking_id"`
	ReaderId  int `json:"reader_id"`
	Count     int `json:"count"`
}

func newEvent(event string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       event,
	}
}

func rawFrame(b []byte) *ServerMessage {
	return &ServerMessage{raw: b}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

// ErrResponse reports err with the status code and kind of its apperror
// classification.
func ErrResponse(id int, err error) *ServerMessage {
	kind := apperror.KindOf(err)
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: kind.HTTPStatus(),
			Error:        apperror.Message(err),
			Kind:         kind.String(),
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := ErrResponse(id, apperror.InvalidArgumentf("invalid message format"))
	if id <= 0 {
		msg.Id = 0
	}
	return msg
}

func ErrTooManyRequests(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusTooManyRequests,
			Error:        "too many requests",
			Kind:         "rate_limited",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
