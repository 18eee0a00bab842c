package database

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-myclean/internal/apperror"
)

// MemRepository is a process-local Repository used for development and
// tests. It enforces the same foreign keys and compare-and-set semantics
// as the Postgres schema.
type MemRepository struct {
	mu            sync.Mutex
	users         map[int]User
	services      map[int]Service
	bookings      map[int]Booking
	messages      []Message
	notifications []Notification
	nextId        int
	now           func() time.Time
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		users:    make(map[int]User),
		services: make(map[int]Service),
		bookings: make(map[int]Booking),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemRepository) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Id] = u
}

func (m *MemRepository) AddService(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.Id] = s
}

// Notifications returns every notification addressed to userId, oldest first.
func (m *MemRepository) Notifications(userId int) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Notification
	for _, n := range m.notifications {
		if n.UserId == userId {
			out = append(out, n)
		}
	}
	return out
}

func (m *MemRepository) id() int {
	m.nextId++
	return m.nextId
}

func notFound(entity string) error {
	return apperror.Wrap(apperror.NotFound, sql.ErrNoRows, entity+" not found")
}

func (m *MemRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemRepository) GetUsers(ctx context.Context, ids ...int) (map[int]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make(map[int]User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			users[id] = u
		}
	}
	return users, nil
}

func (m *MemRepository) GetService(ctx context.Context, id int) (Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok {
		return Service{}, notFound("service")
	}
	return s, nil
}

func (m *MemRepository) addNotification(params CreateNotificationParams, createdAt time.Time) error {
	if _, ok := m.users[params.UserId]; !ok {
		return notFound("referenced entity")
	}

	m.notifications = append(m.notifications, Notification{
		Id:        m.id(),
		UserId:    params.UserId,
		Type:      params.Type,
		Title:     params.Title,
		Message:   params.Message,
		Link:      params.Link,
		CreatedAt: createdAt,
	})
	return nil
}

// withNames fills the joined columns the way bookingSelect does.
func (m *MemRepository) withNames(b Booking) Booking {
	b.CustomerName = m.users[b.CustomerId].Name
	b.ProviderName = m.users[b.ProviderId].Name
	b.ServiceName = m.services[b.ServiceId].Name
	return b
}

func (m *MemRepository) CreateBooking(ctx context.Context, params CreateBookingParams) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, customerOk := m.users[params.CustomerId]
	_, providerOk := m.users[params.ProviderId]
	_, serviceOk := m.services[params.ServiceId]
	if !customerOk || !providerOk || !serviceOk {
		return Booking{}, notFound("referenced entity")
	}
	for _, n := range params.Notifications {
		if _, ok := m.users[n.UserId]; !ok {
			return Booking{}, notFound("referenced entity")
		}
	}

	now := m.now()
	b := Booking{
		Id:                  m.id(),
		CustomerId:          params.CustomerId,
		ProviderId:          params.ProviderId,
		ServiceId:           params.ServiceId,
		BookingDate:         params.BookingDate,
		StartTime:           params.StartTime,
		EndTime:             params.EndTime,
		Address:             params.Address,
		City:                params.City,
		State:               params.State,
		ZipCode:             params.ZipCode,
		SpecialInstructions: params.SpecialInstructions,
		Status:              "PENDING",
		PaymentStatus:       "PENDING",
		TotalPrice:          params.TotalPrice,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	m.bookings[b.Id] = b

	for _, n := range params.Notifications {
		m.addNotification(n, now)
	}

	return m.withNames(b), nil
}

// InsertBooking stores b as-is, keeping its id and status.
func (m *MemRepository) InsertBooking(b Booking) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.Id == 0 {
		b.Id = m.id()
	} else if b.Id > m.nextId {
		m.nextId = b.Id
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
		b.UpdatedAt = b.CreatedAt
	}
	m.bookings[b.Id] = b
	return m.withNames(b)
}

func (m *MemRepository) GetBooking(ctx context.Context, id int) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return Booking{}, notFound("booking")
	}
	return m.withNames(b), nil
}

func (m *MemRepository) ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bookings := make([]Booking, 0)
	for _, b := range m.bookings {
		if params.CustomerId > 0 && b.CustomerId != params.CustomerId {
			continue
		}
		if params.ProviderId > 0 && b.ProviderId != params.ProviderId {
			continue
		}
		if params.UserId > 0 && b.CustomerId != params.UserId && b.ProviderId != params.UserId {
			continue
		}
		if params.Status != "" && b.Status != params.Status {
			continue
		}
		bookings = append(bookings, m.withNames(b))
	}

	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].BookingDate != bookings[j].BookingDate {
			return bookings[i].BookingDate > bookings[j].BookingDate
		}
		return bookings[i].Id > bookings[j].Id
	})

	return bookings, nil
}

func (m *MemRepository) UpdateBookingStatus(ctx context.Context, params UpdateStatusParams) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[params.BookingId]
	if !ok || b.Status != params.From {
		return Booking{}, ErrStatusChanged
	}
	if params.Notification != nil {
		if _, ok := m.users[params.Notification.UserId]; !ok {
			return Booking{}, notFound("referenced entity")
		}
	}

	b.Status = params.To
	b.UpdatedAt = m.now()
	m.bookings[b.Id] = b

	if params.Notification != nil {
		m.addNotification(*params.Notification, b.UpdatedAt)
	}

	return m.withNames(b), nil
}

func (m *MemRepository) DeletePendingBooking(ctx context.Context, id, customerId int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok || b.CustomerId != customerId || b.Status != "PENDING" {
		return ErrStatusChanged
	}

	delete(m.bookings, id)
	m.messages = slices.DeleteFunc(m.messages, func(msg Message) bool {
		return msg.BookingId == id
	})
	return nil
}

func (m *MemRepository) withParticipants(msg Message) Message {
	msg.SenderName = m.users[msg.SenderId].Name
	msg.SenderImage = m.users[msg.SenderId].ProfileImage
	msg.ReceiverName = m.users[msg.ReceiverId].Name
	msg.ReceiverImage = m.users[msg.ReceiverId].ProfileImage
	return msg
}

func (m *MemRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, bookingOk := m.bookings[params.BookingId]
	_, senderOk := m.users[params.SenderId]
	_, receiverOk := m.users[params.ReceiverId]
	if !bookingOk || !senderOk || !receiverOk {
		return Message{}, notFound("referenced entity")
	}
	if params.Notification != nil {
		if _, ok := m.users[params.Notification.UserId]; !ok {
			return Message{}, notFound("referenced entity")
		}
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}

	msg := Message{
		Id:         m.id(),
		BookingId:  params.BookingId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  createdAt,
	}
	m.messages = append(m.messages, msg)

	if params.Notification != nil {
		m.addNotification(*params.Notification, createdAt)
	}

	return m.withParticipants(msg), nil
}

func (m *MemRepository) GetMessages(ctx context.Context, bookingId int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.BookingId == bookingId {
			messages = append(messages, m.withParticipants(msg))
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].Id < messages[j].Id
	})

	return messages, nil
}

func (m *MemRepository) MarkMessagesRead(ctx context.Context, bookingId, receiverId int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.BookingId == bookingId && msg.ReceiverId == receiverId && !msg.IsRead {
			msg.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (m *MemRepository) ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	notifications := make([]Notification, 0)
	for i := len(m.notifications) - 1; i >= 0 && len(notifications) < limit; i-- {
		if m.notifications[i].UserId == userId {
			notifications = append(notifications, m.notifications[i])
		}
	}
	return notifications, nil
}

func (m *MemRepository) MarkNotificationRead(ctx context.Context, id, userId int) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		n := &m.notifications[i]
		if n.Id == id && n.UserId == userId {
			n.IsRead = true
			return *n, nil
		}
	}
	return Notification{}, notFound("notification")
}
