package database

import "context"

// Repository is the persistence collaborator of the booking core. Status
// changes are compare-and-set: UpdateBookingStatus and DeletePendingBooking
// return ErrStatusChanged when the stored row no longer matches.
type Repository interface {
	Ping(ctx context.Context) error
	GetUsers(ctx context.Context, ids ...int) (map[int]User, error)
	GetService(ctx context.Context, id int) (Service, error)
	CreateBooking(ctx context.Context, params CreateBookingParams) (Booking, error)
	GetBooking(ctx context.Context, id int) (Booking, error)
	ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error)
	UpdateBookingStatus(ctx context.Context, params UpdateStatusParams) (Booking, error)
	// DeletePendingBooking removes a PENDING booking together with its
	// messages. It is the only path that deletes messages.
	DeletePendingBooking(ctx context.Context, id, customerId int) error
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, bookingId int) ([]Message, error)
	MarkMessagesRead(ctx context.Context, bookingId, receiverId int) (int, error)
	ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userId int) (Notification, error)
}
