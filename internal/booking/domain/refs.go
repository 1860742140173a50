package domain

import "math/rand/v2"

const refCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	tripRefLength    = 8
	bookingRefLength = 6
)

// NewTripReference generates an 8-character upper-alphanumeric business
// reference for a trip.
func NewTripReference() string { return randomRef(tripRefLength) }

// NewBookingReference generates a 6-character upper-alphanumeric business
// reference for a booking.
func NewBookingReference() string { return randomRef(bookingRefLength) }

func randomRef(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = refCharset[rand.IntN(len(refCharset))]
	}
	return string(b)
}
