// Package chat persists booking-scoped messages and decides who receives
// them.
package chat

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/stats"
	"github.com/npezzotti/go-myclean/internal/types"
	"github.com/patrickmn/go-cache"
)

const maxContentLength = 4000

// Participants are the two parties of a booking.
type Participants struct {
	CustomerId int
	ProviderId int
}

// Has reports whether userId is one of the parties.
func (p Participants) Has(userId int) bool {
	return userId == p.CustomerId || userId == p.ProviderId
}

// Pair reports whether {a, b} is exactly {customer, provider}.
func (p Participants) Pair(a, b int) bool {
	return (a == p.CustomerId && b == p.ProviderId) || (a == p.ProviderId && b == p.CustomerId)
}

type Channel struct {
	db    database.Repository
	cache *cache.Cache
	stats stats.StatsProvider
	log   *log.Logger
	now   func() time.Time
}

// NewChannel returns a channel whose participant lookups are cached for
// ttl. Only bookings past PENDING are cached: their parties never change
// and they can no longer be deleted.
func NewChannel(db database.Repository, ttl time.Duration, st stats.StatsProvider, logger *log.Logger) *Channel {
	return &Channel{
		db:    db,
		cache: cache.New(ttl, 2*ttl),
		stats: st,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC().Round(time.Microsecond) },
	}
}

// Participants returns the parties of bookingId.
func (c *Channel) Participants(ctx context.Context, bookingId int) (Participants, error) {
	key := strconv.Itoa(bookingId)
	if p, ok := c.cache.Get(key); ok {
		return p.(Participants), nil
	}

	b, err := c.db.GetBooking(ctx, bookingId)
	if err != nil {
		return Participants{}, err
	}

	p := Participants{CustomerId: b.CustomerId, ProviderId: b.ProviderId}
	if b.Status != string(types.StatusPending) {
		c.cache.SetDefault(key, p)
	}
	return p, nil
}

type SendParams struct {
	BookingId  int
	SenderId   int
	ReceiverId int
	Content    string
}

// Send persists a message and the receiver's notification. The returned
// message carries sender and receiver projections for delivery.
func (c *Channel) Send(ctx context.Context, params SendParams) (types.Message, error) {
	if params.BookingId <= 0 || params.SenderId <= 0 || params.ReceiverId <= 0 {
		return types.Message{}, apperror.InvalidArgumentf("booking_id, sender_id and receiver_id must be positive")
	}
	if strings.TrimSpace(params.Content) == "" {
		return types.Message{}, apperror.InvalidArgumentf("content is required")
	}
	if len(params.Content) > maxContentLength {
		return types.Message{}, apperror.InvalidArgumentf("content exceeds %d bytes", maxContentLength)
	}

	p, err := c.Participants(ctx, params.BookingId)
	if err != nil {
		return types.Message{}, err
	}
	if !p.Pair(params.SenderId, params.ReceiverId) {
		return types.Message{}, apperror.Forbiddenf("sender and receiver must be the parties of booking %d", params.BookingId)
	}

	users, err := c.db.GetUsers(ctx, params.SenderId)
	if err != nil {
		return types.Message{}, err
	}
	sender, ok := users[params.SenderId]
	if !ok {
		return types.Message{}, apperror.NotFoundf("sender not found")
	}

	msg, err := c.db.CreateMessage(ctx, database.CreateMessageParams{
		BookingId:  params.BookingId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  c.now(),
		Notification: &database.CreateNotificationParams{
			UserId:  params.ReceiverId,
			Type:    string(types.NotificationNewMessage),
			Title:   "New Message",
			Message: fmt.Sprintf("%s sent you a message", sender.Name),
			Link:    "/my-bookings",
		},
	})
	if err != nil {
		c.log.Printf("CreateMessage: %v", err)
		return types.Message{}, err
	}

	c.stats.Incr(stats.MessagesSent)
	return toMessage(msg), nil
}

// MarkRead marks every unread message of bookingId addressed to readerId
// as read and returns how many changed. Repeated calls return 0.
func (c *Channel) MarkRead(ctx context.Context, bookingId, readerId int) (int, error) {
	p, err := c.Participants(ctx, bookingId)
	if err != nil {
		return 0, err
	}
	if !p.Has(readerId) {
		return 0, apperror.Forbiddenf("not a party to booking %d", bookingId)
	}

	return c.db.MarkMessagesRead(ctx, bookingId, readerId)
}

// History returns the messages of bookingId in persisted order.
func (c *Channel) History(ctx context.Context, bookingId, requesterId int) ([]types.Message, error) {
	p, err := c.Participants(ctx, bookingId)
	if err != nil {
		return nil, err
	}
	if !p.Has(requesterId) {
		return nil, apperror.Forbiddenf("not a party to booking %d", bookingId)
	}

	rows, err := c.db.GetMessages(ctx, bookingId)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, len(rows))
	for i, m := range rows {
		messages[i] = toMessage(m)
	}
	return messages, nil
}

// Recipients returns the users a new message is delivered to: the
// receiver, then the sender so the sender's other devices see the echo.
func Recipients(m types.Message) []int {
	if m.SenderId == m.ReceiverId {
		return []int{m.ReceiverId}
	}
	return []int{m.ReceiverId, m.SenderId}
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:         m.Id,
		BookingId:  m.BookingId,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
		Sender: &types.UserSummary{
			Id:           m.SenderId,
			Name:         m.SenderName,
			ProfileImage: m.SenderImage,
		},
		Receiver: &types.UserSummary{
			Id:           m.ReceiverId,
			Name:         m.ReceiverName,
			ProfileImage: m.ReceiverImage,
		},
	}
}
