package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCents_String(t *testing.T) {
	tcases := []struct {
		cents    Cents
		expected string
	}{
		{cents: 0, expected: "0.00"},
		{cents: 5, expected: "0.05"},
		{cents: 1250, expected: "12.50"},
		{cents: 100000, expected: "1000.00"},
		{cents: -199, expected: "-1.99"},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.expected, tc.cents.String())
	}
}

func TestBookingStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.False(t, BookingStatus("SHIPPED").Valid())

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.True(t, StatusDeclined.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
}

func TestBooking_Parties(t *testing.T) {
	b := Booking{CustomerId: 1, ProviderId: 2}

	assert.True(t, b.IsParty(1))
	assert.True(t, b.IsParty(2))
	assert.False(t, b.IsParty(3))
	assert.Equal(t, 2, b.Counterparty(1))
	assert.Equal(t, 1, b.Counterparty(2))
}
