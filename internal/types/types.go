package types

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// Identity is the verified caller of a request or connection.
type Identity struct {
	UserId int  `json:"user_id"`
	Role   Role `json:"role"`
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusAccepted  BookingStatus = "ACCEPTED"
	StatusDeclined  BookingStatus = "DECLINED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s BookingStatus) Terminal() bool {
	return s == StatusDeclined || s == StatusCancelled || s == StatusCompleted
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Cents is an amount in minor currency units.
type Cents int64

// String renders the amount in display units, e.g. 1250 -> "12.50".
func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

type UserSummary struct {
	Id           int    `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type Booking struct {
	Id                  int           `json:"id"`
	CustomerId          int           `json:"customer_id"`
	ProviderId          int           `json:"provider_id"`
	ServiceId           int           `json:"service_id"`
	ServiceName         string        `json:"service_name,omitempty"`
	BookingDate         string        `json:"booking_date"`
	StartTime           string        `json:"start_time"`
	EndTime             string        `json:"end_time"`
	Address             string        `json:"address,omitempty"`
	City                string        `json:"city,omitempty"`
	State               string        `json:"state,omitempty"`
	ZipCode             string        `json:"zip_code,omitempty"`
	SpecialInstructions string        `json:"special_instructions,omitempty"`
	Status              BookingStatus `json:"status"`
	PaymentStatus       PaymentStatus `json:"payment_status"`
	TotalPrice          Cents         `json:"total_price_cents"`
	Customer            *UserSummary  `json:"customer,omitempty"`
	Provider            *UserSummary  `json:"provider,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// IsParty reports whether userId is the customer or the provider.
func (b Booking) IsParty(userId int) bool {
	return userId == b.CustomerId || userId == b.ProviderId
}

// Counterparty returns the other party of the booking.
func (b Booking) Counterparty(userId int) int {
	if userId == b.CustomerId {
		return b.ProviderId
	}
	return b.CustomerId
}

type Message struct {
	Id         int          `json:"id"`
	BookingId  int          `json:"booking_id"`
	SenderId   int          `json:"sender_id"`
	ReceiverId int          `json:"receiver_id"`
	Content    string       `json:"content"`
	IsRead     bool         `json:"is_read"`
	CreatedAt  time.Time    `json:"created_at"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
}

type NotificationType string

const (
	NotificationBookingRequest   NotificationType = "BOOKING_REQUEST"
	NotificationBookingPending   NotificationType = "BOOKING_PENDING"
	NotificationBookingAccepted  NotificationType = "BOOKING_ACCEPTED"
	NotificationBookingDeclined  NotificationType = "BOOKING_DECLINED"
	NotificationBookingCancelled NotificationType = "BOOKING_CANCELLED"
	NotificationNewMessage       NotificationType = "NEW_MESSAGE"
)

type Notification struct {
	Id        int              `json:"id"`
	UserId    int              `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	IsRead    bool             `json:"is_read"`
	Link      string           `json:"link,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
