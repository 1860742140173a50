package domain

import "time"

// The transition functions below are the seat/booking state machine. They are
// pure: inputs are value copies, outputs are new document states, and every
// rejection is one of the sentinel errors in models.go. Persisting the results
// (and retrying on version conflicts) is the service layer's job.

// Reserve validates the requested seat numbers against a single snapshot of
// the trip, blocks them, and produces a fresh Initiated booking. Rejects with
// ErrSeatUnavailable if any requested seat is missing or not AVAILABLE.
func Reserve(trip Trip, seatNumbers []string, bookingRef string, now time.Time) (Trip, Booking, error) {
	seats := trip.CloneSeats()
	for _, number := range seatNumbers {
		idx := trip.SeatIndex(number)
		if idx < 0 || seats[idx].Status != SeatAvailable {
			return Trip{}, Booking{}, ErrSeatUnavailable
		}
		seats[idx].Status = SeatBlocked
	}
	trip.Seats = seats
	trip.UpdatedAt = now

	booking := Booking{
		BookingReference: bookingRef,
		Status:           BookingInitiated,
		InitiatedAt:      now.Unix(),
		Seats:            append([]string(nil), seatNumbers...),
		TripReference:    trip.TripReference,
		UpdatedAt:        now,
	}
	return trip, booking, nil
}

// Confirm moves an Initiated booking to Completed and its blocked seats to
// BOOKED. Terminal bookings and non-scheduled trips are rejected.
func Confirm(trip Trip, booking Booking, now time.Time) (Trip, Booking, error) {
	switch booking.Status {
	case BookingCancelled:
		return Trip{}, Booking{}, ErrBookingAlreadyCancelled
	case BookingCompleted:
		return Trip{}, Booking{}, ErrBookingAlreadyCompleted
	}
	if err := rejectUnlessScheduled(trip.Status); err != nil {
		return Trip{}, Booking{}, err
	}

	seats := trip.CloneSeats()
	for _, number := range booking.Seats {
		if idx := trip.SeatIndex(number); idx >= 0 {
			seats[idx].Status = SeatBooked
		}
	}
	trip.Seats = seats
	trip.UpdatedAt = now
	booking.Status = BookingCompleted
	booking.UpdatedAt = now
	return trip, booking, nil
}

// Cancel handles a user-initiated cancellation. On a SCHEDULED trip the
// booking's claimed seats revert to AVAILABLE; on a CANCELLED trip the booking
// is cancelled without touching seats (the trip is already void). The second
// return value reports whether the trip document changed.
func Cancel(trip Trip, booking Booking, now time.Time) (Trip, Booking, bool, error) {
	switch booking.Status {
	case BookingCancelled:
		return Trip{}, Booking{}, false, ErrBookingAlreadyCancelled
	case BookingCompleted:
		return Trip{}, Booking{}, false, ErrBookingCannotBeCancelled
	}
	switch trip.Status {
	case TripStarted:
		return Trip{}, Booking{}, false, ErrTripAlreadyStarted
	case TripCompleted:
		return Trip{}, Booking{}, false, ErrTripAlreadyCompleted
	}

	tripChanged := false
	if trip.Status == TripScheduled {
		trip = releaseSeats(trip, booking.Seats, now)
		tripChanged = true
	}
	booking.Status = BookingCancelled
	booking.UpdatedAt = now
	return trip, booking, tripChanged, nil
}

// ReleaseOnTimeout is the scheduler-initiated reclamation of an expired
// reservation. It never rejects: a booking found already non-Initiated is
// reported as not applied and nothing else changes.
func ReleaseOnTimeout(booking Booking, now time.Time) (Booking, bool) {
	if booking.Status != BookingInitiated {
		return booking, false
	}
	booking.Status = BookingCancelled
	booking.UpdatedAt = now
	return booking, true
}

// ReleaseSeats reverts the given seat numbers to AVAILABLE on the trip. Used
// by the timeout path after the booking has been cancelled, and by a losing
// reserve reverting its own partial work.
func ReleaseSeats(trip Trip, seatNumbers []string, now time.Time) Trip {
	return releaseSeats(trip, seatNumbers, now)
}

func releaseSeats(trip Trip, seatNumbers []string, now time.Time) Trip {
	seats := trip.CloneSeats()
	for _, number := range seatNumbers {
		if idx := trip.SeatIndex(number); idx >= 0 {
			seats[idx].Status = SeatAvailable
		}
	}
	trip.Seats = seats
	trip.UpdatedAt = now
	return trip
}

// ResetTrip returns the trip to SCHEDULED with every seat AVAILABLE.
// Cancelling the trip's non-terminal bookings is orchestrated by the service,
// bypassing the trip-status gate since reset is explicitly clearing the trip.
func ResetTrip(trip Trip, now time.Time) Trip {
	seats := trip.CloneSeats()
	for i := range seats {
		seats[i].Status = SeatAvailable
	}
	trip.Seats = seats
	trip.Status = TripScheduled
	trip.UpdatedAt = now
	return trip
}

// CancelUnconditionally flips a booking to CANCELLED regardless of trip
// state. Reset uses it for the trip's surviving bookings.
func CancelUnconditionally(booking Booking, now time.Time) Booking {
	booking.Status = BookingCancelled
	booking.UpdatedAt = now
	return booking
}

func rejectUnlessScheduled(status TripStatus) error {
	switch status {
	case TripStarted:
		return ErrTripAlreadyStarted
	case TripCompleted:
		return ErrTripAlreadyCompleted
	case TripCancelled:
		return ErrTripAlreadyCancelled
	}
	return nil
}
