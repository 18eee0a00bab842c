// Package booking implements the booking lifecycle: creation, lookup and
// the status state machine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/stats"
	"github.com/npezzotti/go-myclean/internal/types"
)

// StatusPublisher pushes a booking to the live connections of its parties.
// Delivery is best-effort.
type StatusPublisher interface {
	PublishBookingStatus(ctx context.Context, b types.Booking)
}

type Service struct {
	db    database.Repository
	pub   StatusPublisher
	stats stats.StatsProvider
	log   *log.Logger
}

// NewService returns a booking service. pub may be nil.
func NewService(db database.Repository, pub StatusPublisher, st stats.StatsProvider, logger *log.Logger) *Service {
	return &Service{
		db:    db,
		pub:   pub,
		stats: st,
		log:   logger,
	}
}

type CreateParams struct {
	CustomerId          int         `json:"customer_id"`
	ProviderId          int         `json:"provider_id"`
	ServiceId           int         `json:"service_id"`
	BookingDate         string      `json:"booking_date"`
	StartTime           string      `json:"start_time"`
	EndTime             string      `json:"end_time"`
	Address             string      `json:"address"`
	City                string      `json:"city"`
	State               string      `json:"state"`
	ZipCode             string      `json:"zip_code"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
	TotalPrice          types.Cents `json:"total_price_cents"`
}

func (p CreateParams) validate() error {
	if p.CustomerId <= 0 || p.ProviderId <= 0 || p.ServiceId <= 0 {
		return apperror.InvalidArgumentf("customer_id, provider_id and service_id must be positive")
	}
	if p.CustomerId == p.ProviderId {
		return apperror.InvalidArgumentf("customer and provider must be different users")
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"booking_date", p.BookingDate},
		{"start_time", p.StartTime},
		{"end_time", p.EndTime},
		{"address", p.Address},
		{"city", p.City},
		{"state", p.State},
		{"zip_code", p.ZipCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperror.InvalidArgumentf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if p.TotalPrice <= 0 {
		return apperror.InvalidArgumentf("total_price_cents must be positive")
	}

	return nil
}

// Create stores a new PENDING booking requested by its customer and
// notifies both parties.
func (s *Service) Create(ctx context.Context, actor types.Identity, params CreateParams) (types.Booking, error) {
	if actor.UserId != params.CustomerId {
		return types.Booking{}, apperror.Forbiddenf("bookings can only be requested by the customer")
	}
	if err := params.validate(); err != nil {
		return types.Booking{}, err
	}

	svc, err := s.db.GetService(ctx, params.ServiceId)
	if err != nil {
		return types.Booking{}, err
	}
	if !svc.IsActive || svc.ProviderId != params.ProviderId {
		return types.Booking{}, apperror.NotFoundf("service not found or not available")
	}

	users, err := s.db.GetUsers(ctx, params.CustomerId, params.ProviderId)
	if err != nil {
		return types.Booking{}, err
	}
	customer, ok := users[params.CustomerId]
	if !ok {
		return types.Booking{}, apperror.NotFoundf("customer not found")
	}
	provider, ok := users[params.ProviderId]
	if !ok {
		return types.Booking{}, apperror.NotFoundf("provider not found")
	}

	b, err := s.db.CreateBooking(ctx, database.CreateBookingParams{
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
		TotalPrice:          int64(params.TotalPrice),
		Notifications: []database.CreateNotificationParams{
			{
				UserId:  params.ProviderId,
				Type:    string(types.NotificationBookingRequest),
				Title:   "New Booking Request",
				Message: fmt.Sprintf("%s has requested %s for %s", customer.Name, svc.Name, params.BookingDate),
				Link:    "/provider/dashboard",
			},
			{
				UserId:  params.CustomerId,
				Type:    string(types.NotificationBookingPending),
				Title:   "Booking Request Sent",
				Message: fmt.Sprintf("Your booking request with %s is pending approval", provider.Name),
				Link:    "/my-bookings",
			},
		},
	})
	if err != nil {
		s.log.Printf("CreateBooking: %v", err)
		return types.Booking{}, err
	}

	booking := toBooking(b)
	s.publish(ctx, booking)
	return booking, nil
}

// Get returns the booking if actor is one of its parties or an admin.
func (s *Service) Get(ctx context.Context, id int, actor types.Identity) (types.Booking, error) {
	b, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return types.Booking{}, err
	}

	if !isParty(b, actor) && actor.Role != types.RoleAdmin {
		return types.Booking{}, apperror.Forbiddenf("not a party to this booking")
	}

	return toBooking(b), nil
}

type ListParams struct {
	// Role restricts the listing to bookings where the actor is the
	// customer or the provider. Empty means either.
	Role   types.Role
	Status types.BookingStatus
}

func (s *Service) List(ctx context.Context, actor types.Identity, params ListParams) ([]types.Booking, error) {
	if params.Status != "" && !params.Status.Valid() {
		return nil, apperror.InvalidArgumentf("unknown status %q", params.Status)
	}

	q := database.ListBookingsParams{Status: string(params.Status)}
	switch params.Role {
	case types.RoleCustomer:
		q.CustomerId = actor.UserId
	case types.RoleProvider:
		q.ProviderId = actor.UserId
	case "":
		if actor.Role != types.RoleAdmin {
			q.UserId = actor.UserId
		}
	default:
		return nil, apperror.InvalidArgumentf("unknown role %q", params.Role)
	}

	rows, err := s.db.ListBookings(ctx, q)
	if err != nil {
		return nil, err
	}

	bookings := make([]types.Booking, len(rows))
	for i, b := range rows {
		bookings[i] = toBooking(b)
	}
	return bookings, nil
}

// Transition moves booking id to requested on behalf of actor. The store
// update is a compare-and-set on the status that was validated, so of two
// racing requests at most one succeeds and the other gets Conflict.
func (s *Service) Transition(ctx context.Context, id int, requested types.BookingStatus, actor types.Identity) (types.Booking, error) {
	r, ok := transitions[requested]
	if !ok {
		return types.Booking{}, apperror.InvalidArgumentf("invalid status %q", requested)
	}

	b, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return types.Booking{}, err
	}

	adminOverride := requested == types.StatusCompleted && actor.Role == types.RoleAdmin
	if !isParty(b, actor) && !adminOverride {
		return types.Booking{}, apperror.Forbiddenf("not a party to this booking")
	}

	current := types.BookingStatus(b.Status)
	if current == requested {
		return types.Booking{}, apperror.Conflictf("booking is already %s", current)
	}
	if !r.permits(current) {
		return types.Booking{}, apperror.Conflictf("cannot move booking from %s to %s", current, requested)
	}

	if !r.allowed(b, actor) {
		return types.Booking{}, apperror.Forbiddenf("%s", r.deniedMsg)
	}

	params := database.UpdateStatusParams{
		BookingId: id,
		From:      string(current),
		To:        string(requested),
	}
	if r.notify != nil {
		params.Notification = r.notify(b, actor)
	}

	updated, err := s.db.UpdateBookingStatus(ctx, params)
	if errors.Is(err, database.ErrStatusChanged) {
		return types.Booking{}, s.lostRace(ctx, id, requested)
	}
	if err != nil {
		s.log.Printf("UpdateBookingStatus: %v", err)
		return types.Booking{}, err
	}

	s.log.Printf("booking %d: %s -> %s by user %d", id, current, requested, actor.UserId)
	s.stats.Incr(stats.StatusTransitions)

	booking := toBooking(updated)
	s.publish(ctx, booking)
	return booking, nil
}

// lostRace reports why a compare-and-set missed.
func (s *Service) lostRace(ctx context.Context, id int, requested types.BookingStatus) error {
	b, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return err
	}

	s.log.Printf("booking %d: %s lost to concurrent change to %s", id, requested, b.Status)
	return apperror.Conflictf("booking status changed to %s", b.Status)
}

// Delete removes a PENDING booking on behalf of its customer. Any messages
// already exchanged on it are removed with it.
func (s *Service) Delete(ctx context.Context, id int, actor types.Identity) error {
	b, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return err
	}

	if actor.UserId != b.CustomerId {
		return apperror.Forbiddenf("only the customer can delete a booking")
	}
	if b.Status != string(types.StatusPending) {
		return apperror.Conflictf("only pending bookings can be deleted, booking is %s", b.Status)
	}

	err = s.db.DeletePendingBooking(ctx, id, actor.UserId)
	if errors.Is(err, database.ErrStatusChanged) {
		if _, err := s.db.GetBooking(ctx, id); err != nil {
			return err
		}
		return apperror.Conflictf("booking is no longer pending")
	}
	if err != nil {
		s.log.Printf("DeletePendingBooking: %v", err)
	}

	return err
}

func (s *Service) publish(ctx context.Context, b types.Booking) {
	if s.pub != nil {
		s.pub.PublishBookingStatus(ctx, b)
	}
}

func toBooking(b database.Booking) types.Booking {
	return types.Booking{
		Id:                  b.Id,
		CustomerId:          b.CustomerId,
		ProviderId:          b.ProviderId,
		ServiceId:           b.ServiceId,
		ServiceName:         b.ServiceName,
		BookingDate:         b.BookingDate,
		StartTime:           b.StartTime,
		EndTime:             b.EndTime,
		Address:             b.Address,
		City:                b.City,
		State:               b.State,
		ZipCode:             b.ZipCode,
		SpecialInstructions: b.SpecialInstructions,
		Status:              types.BookingStatus(b.Status),
		PaymentStatus:       types.PaymentStatus(b.PaymentStatus),
		TotalPrice:          types.Cents(b.TotalPrice),
		Customer:            &types.UserSummary{Id: b.CustomerId, Name: b.CustomerName},
		Provider:            &types.UserSummary{Id: b.ProviderId, Name: b.ProviderName},
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}
