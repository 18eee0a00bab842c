package database

import "time"

type User struct {
	Id           int
	Name         string
	Email        string
	Role         string
	ProfileImage string
}

type Service struct {
	Id           int
	ProviderId   int
	Name         string
	Description  string
	PricePerHour int64
	IsActive     bool
}

type Booking struct {
	Id                  int
	CustomerId          int
	ProviderId          int
	ServiceId           int
	ServiceName         string
	BookingDate         string
	StartTime           string
	EndTime             string
	Address             string
	City                string
	State               string
	ZipCode             string
	SpecialInstructions string
	Status              string
	PaymentStatus       string
	TotalPrice          int64
	CustomerName        string
	ProviderName        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Message struct {
	Id            int
	BookingId     int
	SenderId      int
	ReceiverId    int
	Content       string
	IsRead        bool
	CreatedAt     time.Time
	SenderName    string
	SenderImage   string
	ReceiverName  string
	ReceiverImage string
}

type Notification struct {
	Id        int
	UserId    int
	Type      string
	Title     string
	Message   string
	Link      string
	IsRead    bool
	CreatedAt time.Time
}

type CreateNotificationParams struct {
	UserId  int
	Type    string
	Title   string
	Message string
	Link    string
}

type CreateBookingParams struct {
	CustomerId          int
	ProviderId          int
	ServiceId           int
	BookingDate         string
	StartTime           string
	EndTime             string
	Address             string
	City                string
	State               string
	ZipCode             string
	SpecialInstructions string
	TotalPrice          int64
	// Notifications are written in the same transaction as the booking.
	Notifications []CreateNotificationParams
}

// ListBookingsParams filters bookings. UserId matches either party.
type ListBookingsParams struct {
	CustomerId int
	ProviderId int
	UserId     int
	Status     string
}

type UpdateStatusParams struct {
	BookingId    int
	From         string
	To           string
	Notification *CreateNotificationParams
}

type CreateMessageParams struct {
	BookingId    int
	SenderId     int
	ReceiverId   int
	Content      string
	CreatedAt    time.Time
	Notification *CreateNotificationParams
}
