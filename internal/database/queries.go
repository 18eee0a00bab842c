package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	bookingSelect = "SELECT b.id, b.customer_id, b.provider_id, b.service_id, COALESCE(s.service_name, ''), " +
		"b.booking_date, b.start_time, b.end_time, b.address, b.city, b.state, b.zip_code, " +
		"b.special_instructions, b.status, b.payment_status, b.total_price, " +
		"COALESCE(c.name, ''), COALESCE(p.name, ''), b.created_at, b.updated_at " +
		"FROM bookings b " +
		"JOIN accounts c ON c.id = b.customer_id " +
		"JOIN accounts p ON p.id = b.provider_id " +
		"LEFT JOIN provider_services s ON s.id = b.service_id"

	messageSelect = "SELECT m.id, m.booking_id, m.sender_id, m.receiver_id, m.content, m.is_read, m.created_at, " +
		"COALESCE(sa.name, ''), COALESCE(sa.profile_image, ''), COALESCE(ra.name, ''), COALESCE(ra.profile_image, '') " +
		"FROM messages m " +
		"JOIN accounts sa ON sa.id = m.sender_id " +
		"JOIN accounts ra ON ra.id = m.receiver_id"

	notificationColumns = "id, user_id, type, title, message, link, is_read, created_at"

	createNotificationQuery = "INSERT INTO notifications (user_id, type, title, message, link, is_read, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, false, $6)"
)

// rowQueryer is satisfied by both *sql.DB and *sql.Tx.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (Booking, error) {
	var b Booking
	err := row.Scan(
		&b.Id,
		&b.CustomerId,
		&b.ProviderId,
		&b.ServiceId,
		&b.ServiceName,
		&b.BookingDate,
		&b.StartTime,
		&b.EndTime,
		&b.Address,
		&b.City,
		&b.State,
		&b.ZipCode,
		&b.SpecialInstructions,
		&b.Status,
		&b.PaymentStatus,
		&b.TotalPrice,
		&b.CustomerName,
		&b.ProviderName,
		&b.CreatedAt,
		&b.UpdatedAt,
	)

	return b, err
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.BookingId,
		&m.SenderId,
		&m.ReceiverId,
		&m.Content,
		&m.IsRead,
		&m.CreatedAt,
		&m.SenderName,
		&m.SenderImage,
		&m.ReceiverName,
		&m.ReceiverImage,
	)

	return m, err
}

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	err := row.Scan(
		&n.Id,
		&n.UserId,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Link,
		&n.IsRead,
		&n.CreatedAt,
	)

	return n, err
}

func getBooking(ctx context.Context, q rowQueryer, id int) (Booking, error) {
	return scanBooking(q.QueryRowContext(ctx, bookingSelect+" WHERE b.id = $1", id))
}

func createNotification(ctx context.Context, tx *sql.Tx, params CreateNotificationParams, createdAt time.Time) error {
	_, err := tx.ExecContext(
		ctx,
		createNotificationQuery,
		params.UserId,
		params.Type,
		params.Title,
		params.Message,
		params.Link,
		createdAt,
	)

	return err
}

func (db *PgRepository) GetUsers(ctx context.Context, ids ...int) (map[int]User, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT id, COALESCE(name, ''), email, role, COALESCE(profile_image, '') FROM accounts WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, classify(err, "user")
	}
	defer rows.Close()

	users := make(map[int]User, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Name, &u.Email, &u.Role, &u.ProfileImage); err != nil {
			return nil, classify(err, "user")
		}
		users[u.Id] = u
	}

	return users, classify(rows.Err(), "user")
}

func (db *PgRepository) GetService(ctx context.Context, id int) (Service, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT id, provider_id, service_name, description, price_per_hour, is_active "+
			"FROM provider_services WHERE id = $1",
		id,
	)

	var s Service
	err := row.Scan(
		&s.Id,
		&s.ProviderId,
		&s.Name,
		&s.Description,
		&s.PricePerHour,
		&s.IsActive,
	)

	return s, classify(err, "service")
}

func (db *PgRepository) CreateBooking(ctx context.Context, params CreateBookingParams) (booking Booking, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var id int
	err = tx.QueryRowContext(
		ctx,
		"INSERT INTO bookings (customer_id, provider_id, service_id, booking_date, start_time, end_time, "+
			"address, city, state, zip_code, special_instructions, status, payment_status, total_price, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'PENDING', 'PENDING', $12, $13, $13) RETURNING id",
		params.CustomerId,
		params.ProviderId,
		params.ServiceId,
		params.BookingDate,
		params.StartTime,
		params.EndTime,
		params.Address,
		params.City,
		params.State,
		params.ZipCode,
		params.SpecialInstructions,
		params.TotalPrice,
		now,
	).Scan(&id)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}

	for _, n := range params.Notifications {
		if err = createNotification(ctx, tx, n, now); err != nil {
			return Booking{}, classify(err, "notification")
		}
	}

	booking, err = getBooking(ctx, tx, id)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}

	if err = tx.Commit(); err != nil {
		return Booking{}, classify(err, "booking")
	}

	return booking, nil
}

func (db *PgRepository) GetBooking(ctx context.Context, id int) (Booking, error) {
	b, err := getBooking(ctx, db.conn, id)
	return b, classify(err, "booking")
}

func (db *PgRepository) ListBookings(ctx context.Context, params ListBookingsParams) ([]Booking, error) {
	var (
		conds []string
		args  []any
	)

	if params.CustomerId > 0 {
		args = append(args, params.CustomerId)
		conds = append(conds, fmt.Sprintf("b.customer_id = $%d", len(args)))
	}
	if params.ProviderId > 0 {
		args = append(args, params.ProviderId)
		conds = append(conds, fmt.Sprintf("b.provider_id = $%d", len(args)))
	}
	if params.UserId > 0 {
		args = append(args, params.UserId)
		conds = append(conds, fmt.Sprintf("(b.customer_id = $%d OR b.provider_id = $%d)", len(args), len(args)))
	}
	if params.Status != "" {
		args = append(args, params.Status)
		conds = append(conds, fmt.Sprintf("b.status = $%d", len(args)))
	}

	query := bookingSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY b.booking_date DESC, b.id DESC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "booking")
	}
	defer rows.Close()

	bookings := make([]Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify(err, "booking")
		}
		bookings = append(bookings, b)
	}

	return bookings, classify(rows.Err(), "booking")
}

// UpdateBookingStatus moves the booking from params.From to params.To and
// writes the optional notification in the same transaction.
func (db *PgRepository) UpdateBookingStatus(ctx context.Context, params UpdateStatusParams) (booking Booking, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		"UPDATE bookings SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2",
		params.BookingId,
		params.From,
		params.To,
		now,
	)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Booking{}, classify(err, "booking")
	}
	if n == 0 {
		err = ErrStatusChanged
		return Booking{}, err
	}

	if params.Notification != nil {
		if err = createNotification(ctx, tx, *params.Notification, now); err != nil {
			return Booking{}, classify(err, "notification")
		}
	}

	booking, err = getBooking(ctx, tx, params.BookingId)
	if err != nil {
		return Booking{}, classify(err, "booking")
	}

	if err = tx.Commit(); err != nil {
		return Booking{}, classify(err, "booking")
	}

	return booking, nil
}

// DeletePendingBooking deletes the booking row. Its messages follow through
// the ON DELETE CASCADE on messages.booking_id.
func (db *PgRepository) DeletePendingBooking(ctx context.Context, id, customerId int) error {
	res, err := db.conn.ExecContext(
		ctx,
		"DELETE FROM bookings WHERE id = $1 AND customer_id = $2 AND status = 'PENDING'",
		id,
		customerId,
	)
	if err != nil {
		return classify(err, "booking")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "booking")
	}
	if n == 0 {
		return ErrStatusChanged
	}

	return nil
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (msg Message, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, classify(err, "message")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int
	err = tx.QueryRowContext(
		ctx,
		"INSERT INTO messages (booking_id, sender_id, receiver_id, content, is_read, created_at) "+
			"VALUES ($1, $2, $3, $4, false, $5) RETURNING id",
		params.BookingId,
		params.SenderId,
		params.ReceiverId,
		params.Content,
		createdAt,
	).Scan(&id)
	if err != nil {
		return Message{}, classify(err, "message")
	}

	if params.Notification != nil {
		if err = createNotification(ctx, tx, *params.Notification, createdAt); err != nil {
			return Message{}, classify(err, "notification")
		}
	}

	msg, err = scanMessage(tx.QueryRowContext(ctx, messageSelect+" WHERE m.id = $1", id))
	if err != nil {
		return Message{}, classify(err, "message")
	}

	if err = tx.Commit(); err != nil {
		return Message{}, classify(err, "message")
	}

	return msg, nil
}

func (db *PgRepository) GetMessages(ctx context.Context, bookingId int) ([]Message, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		messageSelect+" WHERE m.booking_id = $1 ORDER BY m.created_at ASC, m.id ASC",
		bookingId,
	)
	if err != nil {
		return nil, classify(err, "message")
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify(err, "message")
		}
		messages = append(messages, m)
	}

	return messages, classify(rows.Err(), "message")
}

func (db *PgRepository) MarkMessagesRead(ctx context.Context, bookingId, receiverId int) (int, error) {
	res, err := db.conn.ExecContext(
		ctx,
		"UPDATE messages SET is_read = true WHERE booking_id = $1 AND receiver_id = $2 AND is_read = false",
		bookingId,
		receiverId,
	)
	if err != nil {
		return 0, classify(err, "message")
	}

	n, err := res.RowsAffected()
	return int(n), classify(err, "message")
}

func (db *PgRepository) ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = $1 "+
			"ORDER BY created_at DESC, id DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, classify(err, "notification")
	}
	defer rows.Close()

	notifications := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, classify(err, "notification")
		}
		notifications = append(notifications, n)
	}

	return notifications, classify(rows.Err(), "notification")
}

func (db *PgRepository) MarkNotificationRead(ctx context.Context, id, userId int) (Notification, error) {
	n, err := scanNotification(db.conn.QueryRowContext(
		ctx,
		"UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2 RETURNING "+notificationColumns,
		id,
		userId,
	))

	return n, classify(err, "notification")
}
