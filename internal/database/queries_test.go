package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*PgRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return newPgRepositoryFromDB(db), mock
}

var bookingRowColumns = []string{
	"id", "customer_id", "provider_id", "service_id", "service_name",
	"booking_date", "start_time", "end_time", "address", "city", "state", "zip_code",
	"special_instructions", "status", "payment_status", "total_price",
	"customer_name", "provider_name", "created_at", "updated_at",
}

func bookingRows(now time.Time, status string) *sqlmock.Rows {
	return sqlmock.NewRows(bookingRowColumns).AddRow(
		1, 5, 7, 3, "Deep Clean",
		"2026-11-02", "09:00", "11:00", "1 Main St", "Springfield", "IL", "62701",
		"", status, "PENDING", int64(12500),
		"Carol", "Pete", now, now,
	)
}

func TestPgRepository_UpdateBookingStatus(t *testing.T) {
	now := time.Now()

	t.Run("moves status and writes notification", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
			WithArgs(1, "PENDING", "ACCEPTED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
			WithArgs(5, "BOOKING_ACCEPTED", "Booking Accepted", sqlmock.AnyArg(), "/bookings/1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(regexp.QuoteMeta(bookingSelect + " WHERE b.id = $1")).
			WithArgs(1).
			WillReturnRows(bookingRows(now, "ACCEPTED"))
		mock.ExpectCommit()

		b, err := repo.UpdateBookingStatus(context.Background(), UpdateStatusParams{
			BookingId: 1,
			From:      "PENDING",
			To:        "ACCEPTED",
			Notification: &CreateNotificationParams{
				UserId:  5,
				Type:    "BOOKING_ACCEPTED",
				Title:   "Booking Accepted",
				Message: "Your booking has been accepted",
				Link:    "/bookings/1",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "ACCEPTED", b.Status)
		assert.Equal(t, "Carol", b.CustomerName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status already changed", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status")).
			WithArgs(1, "PENDING", "DECLINED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.UpdateBookingStatus(context.Background(), UpdateStatusParams{
			BookingId: 1,
			From:      "PENDING",
			To:        "DECLINED",
		})
		assert.ErrorIs(t, err, ErrStatusChanged)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("notification failure rolls back", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
			WillReturnError(&pq.Error{Code: "23503"})
		mock.ExpectRollback()

		_, err := repo.UpdateBookingStatus(context.Background(), UpdateStatusParams{
			BookingId:    1,
			From:         "PENDING",
			To:           "CANCELLED",
			Notification: &CreateNotificationParams{UserId: 99},
		})
		assert.True(t, apperror.Is(err, apperror.NotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_CreateBooking(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO bookings")).
		WithArgs(5, 7, 3, "2026-11-02", "09:00", "11:00", "1 Main St", "Springfield", "IL", "62701", "", int64(12500), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs(7, "BOOKING_REQUEST", sqlmock.AnyArg(), sqlmock.AnyArg(), "/provider/bookings/1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(bookingSelect + " WHERE b.id = $1")).
		WithArgs(1).
		WillReturnRows(bookingRows(now, "PENDING"))
	mock.ExpectCommit()

	b, err := repo.CreateBooking(context.Background(), CreateBookingParams{
		CustomerId:  5,
		ProviderId:  7,
		ServiceId:   3,
		BookingDate: "2026-11-02",
		StartTime:   "09:00",
		EndTime:     "11:00",
		Address:     "1 Main St",
		City:        "Springfield",
		State:       "IL",
		ZipCode:     "62701",
		TotalPrice:  12500,
		Notifications: []CreateNotificationParams{
			{UserId: 7, Type: "BOOKING_REQUEST", Title: "New Booking Request", Link: "/provider/bookings/1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Id)
	assert.Equal(t, int64(12500), b.TotalPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_DeletePendingBooking(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings WHERE id = $1 AND customer_id = $2 AND status = 'PENDING'")).
		WithArgs(1, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings")).
		WithArgs(1, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.DeletePendingBooking(context.Background(), 1, 5))
	assert.ErrorIs(t, repo.DeletePendingBooking(context.Background(), 1, 5), ErrStatusChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetBooking_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(bookingSelect)).
		WithArgs(42).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBooking(context.Background(), 42)
	assert.True(t, apperror.Is(err, apperror.NotFound))
	assert.Equal(t, "booking not found", apperror.Message(err))
}

func TestPgRepository_CreateMessage(t *testing.T) {
	repo, mock := newTestRepository(t)
	sentAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(1, 9, 7, "on my way", sentAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs(7, "NEW_MESSAGE", "New Message", sqlmock.AnyArg(), "/messages/1", sentAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(messageSelect + " WHERE m.id = $1")).
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "sender_id", "receiver_id", "content", "is_read", "created_at",
			"sender_name", "sender_image", "receiver_name", "receiver_image",
		}).AddRow(11, 1, 9, 7, "on my way", false, sentAt, "Pete", "", "Carol", "/img/carol.png"))
	mock.ExpectCommit()

	msg, err := repo.CreateMessage(context.Background(), CreateMessageParams{
		BookingId:  1,
		SenderId:   9,
		ReceiverId: 7,
		Content:    "on my way",
		CreatedAt:  sentAt,
		Notification: &CreateNotificationParams{
			UserId:  7,
			Type:    "NEW_MESSAGE",
			Title:   "New Message",
			Message: "Pete sent you a message",
			Link:    "/messages/1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 11, msg.Id)
	assert.Equal(t, "Pete", msg.SenderName)
	assert.Equal(t, "/img/carol.png", msg.ReceiverImage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_MarkMessagesRead(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET is_read = true")).
		WithArgs(1, 7).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkMessagesRead(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPgRepository_ListBookings(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(bookingSelect + " WHERE (b.customer_id = $1 OR b.provider_id = $1) AND b.status = $2 ORDER BY b.booking_date DESC, b.id DESC")).
		WithArgs(5, "PENDING").
		WillReturnRows(bookingRows(now, "PENDING"))

	bookings, err := repo.ListBookings(context.Background(), ListBookingsParams{UserId: 5, Status: "PENDING"})
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected apperror.Kind
	}{
		{name: "no rows", err: sql.ErrNoRows, expected: apperror.NotFound},
		{name: "foreign key", err: &pq.Error{Code: "23503"}, expected: apperror.NotFound},
		{name: "unique", err: &pq.Error{Code: "23505"}, expected: apperror.Conflict},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, expected: apperror.Unavailable},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, expected: apperror.Unavailable},
		{name: "conn done", err: sql.ErrConnDone, expected: apperror.Unavailable},
		{name: "deadline", err: context.DeadlineExceeded, expected: apperror.Unavailable},
		{name: "syntax", err: &pq.Error{Code: "42601"}, expected: apperror.Internal},
		{name: "other", err: errors.New("boom"), expected: apperror.Internal},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, apperror.KindOf(classify(tc.err, "booking")))
		})
	}

	assert.NoError(t, classify(nil, "booking"))
	assert.ErrorIs(t, classify(ErrStatusChanged, "booking"), ErrStatusChanged)
}
