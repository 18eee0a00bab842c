package booking

import (
	"fmt"
	"slices"

	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/types"
)

// rule describes how a booking may enter a status.
type rule struct {
	from []types.BookingStatus
	// allowed reports whether actor may request the status on b.
	allowed func(b database.Booking, actor types.Identity) bool
	// deniedMsg is returned with Forbidden when allowed fails.
	deniedMsg string
	// notify builds the counterparty notification, nil for none.
	notify func(b database.Booking, actor types.Identity) *database.CreateNotificationParams
}

func isProvider(b database.Booking, actor types.Identity) bool {
	return actor.UserId == b.ProviderId
}

func isParty(b database.Booking, actor types.Identity) bool {
	return actor.UserId == b.CustomerId || actor.UserId == b.ProviderId
}

// transitions is the booking lifecycle graph keyed by target status.
// PENDING is only ever assigned by Create.
var transitions = map[types.BookingStatus]rule{
	types.StatusAccepted: {
		from:      []types.BookingStatus{types.StatusPending},
		allowed:   isProvider,
		deniedMsg: "only the provider can accept a booking",
		notify: func(b database.Booking, _ types.Identity) *database.CreateNotificationParams {
			return &database.CreateNotificationParams{
				UserId:  b.CustomerId,
				Type:    string(types.NotificationBookingAccepted),
				Title:   "Booking Confirmed!",
				Message: fmt.Sprintf("%s has accepted your booking for %s", b.ProviderName, b.ServiceName),
				Link:    "/my-bookings",
			}
		},
	},
	types.StatusDeclined: {
		from:      []types.BookingStatus{types.StatusPending},
		allowed:   isProvider,
		deniedMsg: "only the provider can decline a booking",
		notify: func(b database.Booking, _ types.Identity) *database.CreateNotificationParams {
			return &database.CreateNotificationParams{
				UserId:  b.CustomerId,
				Type:    string(types.NotificationBookingDeclined),
				Title:   "Booking Declined",
				Message: fmt.Sprintf("%s has declined your booking request", b.ProviderName),
				Link:    "/my-bookings",
			}
		},
	},
	types.StatusCancelled: {
		from:      []types.BookingStatus{types.StatusPending, types.StatusAccepted},
		allowed:   isParty,
		deniedMsg: "only the customer or the provider can cancel a booking",
		notify: func(b database.Booking, actor types.Identity) *database.CreateNotificationParams {
			n := &database.CreateNotificationParams{
				Type:  string(types.NotificationBookingCancelled),
				Title: "Booking Cancelled",
			}
			if actor.UserId == b.CustomerId {
				n.UserId = b.ProviderId
				n.Message = fmt.Sprintf("%s has cancelled the booking for %s", b.CustomerName, b.ServiceName)
				n.Link = "/provider/dashboard"
			} else {
				n.UserId = b.CustomerId
				n.Message = fmt.Sprintf("%s has cancelled the booking for %s", b.ProviderName, b.ServiceName)
				n.Link = "/my-bookings"
			}
			return n
		},
	},
	types.StatusCompleted: {
		from: []types.BookingStatus{types.StatusPending, types.StatusAccepted},
		allowed: func(b database.Booking, actor types.Identity) bool {
			return isProvider(b, actor) || actor.Role == types.RoleAdmin
		},
		deniedMsg: "only the provider can complete a booking",
	},
}

func (r rule) permits(current types.BookingStatus) bool {
	return slices.Contains(r.from, current)
}

// CanTransition reports whether the graph has an edge from -> to,
// ignoring who is asking.
func CanTransition(from, to types.BookingStatus) bool {
	r, ok := transitions[to]
	return ok && r.permits(from)
}
