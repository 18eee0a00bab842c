package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetUsers(ctx context.Context, ids ...int) (map[int]User, error) {
	args := m.Called(ctx, ids)
	if users, ok := args.Get(0).(map[int]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetService(ctx context.Context, id int) (Service, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Service), args.Error(1)
}
func (m *MockRepository) CreateBooking(ctx context.Context, params CreateBookingParams) (Booking, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Booking), args.Error(1)
}
func (m *MockRepository) GetBooking(ctx context.Context, id int) (Booking, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Booking), args.Error(1)
}
func (m *MockRepository) ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error) {
	args := m.Called(ctx, params)
	return args.Get(0).([]Booking), args.Error(1)
}
func (m *MockRepository) UpdateBookingStatus(ctx context.Context, params UpdateStatusParams) (Booking, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Booking), args.Error(1)
}
func (m *MockRepository) DeletePendingBooking(ctx context.Context, id, customerId int) error {
	args := m.Called(ctx, id, customerId)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, bookingId int) ([]Message, error) {
	args := m.Called(ctx, bookingId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) MarkMessagesRead(ctx context.Context, bookingId, receiverId int) (int, error) {
	args := m.Called(ctx, bookingId, receiverId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error) {
	args := m.Called(ctx, userId, limit)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockRepository) MarkNotificationRead(ctx context.Context, id, userId int) (Notification, error) {
	args := m.Called(ctx, id, userId)
	return args.Get(0).(Notification), args.Error(1)
}
