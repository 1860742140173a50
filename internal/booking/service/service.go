package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/seatlite/internal/booking/domain"
)

const defaultRetryMax = 3

// Service wraps every seat/booking transition with the read-compute-
// conditional-write loop. The state machine in the domain package makes the
// decisions; Service persists them and absorbs version conflicts by
// re-reading and re-evaluating, up to a bounded retry count.
type Service struct {
	store    domain.Store
	events   domain.EventPublisher
	clock    domain.Clock
	retryMax int
}

// New constructs a Service with the required collaborators.
func New(store domain.Store, events domain.EventPublisher, clock domain.Clock, retryMax int) *Service {
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	return &Service{store: store, events: events, clock: clock, retryMax: retryMax}
}

// withRetry runs op until it returns something other than a version conflict.
// After the retry budget is spent the conflict surfaces as ErrContention.
func (s *Service) withRetry(ctx context.Context, transition string, op func(context.Context) error) error {
	for attempt := 0; attempt < s.retryMax; attempt++ {
		err := op(ctx)
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		conflictRetriesTotal.WithLabelValues(transition).Inc()
	}
	return domain.ErrContention
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event)
}

// ReserveSeats initiates a booking for the requested seat numbers on a trip.
// Exactly one of two racing reserves for the same seat wins; the loser
// re-reads the fresher trip, observes the seat as BLOCKED and is rejected
// with ErrSeatUnavailable.
func (s *Service) ReserveSeats(ctx context.Context, tripRef string, seatNumbers []string) (domain.Booking, error) {
	if len(seatNumbers) == 0 {
		return domain.Booking{}, fmt.Errorf("reserve seats: %w", domain.ErrSeatUnavailable)
	}

	bookingRef := domain.NewBookingReference()
	var booking domain.Booking
	err := s.withRetry(ctx, "reserve", func(ctx context.Context) error {
		trip, err := s.store.GetTripByReference(ctx, tripRef)
		if err != nil {
			return err
		}
		updatedTrip, newBooking, err := domain.Reserve(trip, seatNumbers, bookingRef, s.clock.Now())
		if err != nil {
			return err
		}
		if _, err := s.store.ReplaceTrip(ctx, updatedTrip); err != nil {
			return err
		}
		booking = newBooking
		return nil
	})
	if err != nil {
		transitionsTotal.WithLabelValues("reserve", outcome(err)).Inc()
		return domain.Booking{}, err
	}

	booking.ID = uuid.NewString()
	if _, err := s.store.CreateBooking(ctx, booking); err != nil {
		// The seats are blocked but no booking exists to time out, so revert
		// them before reporting the failure.
		s.revertSeats(ctx, tripRef, seatNumbers)
		transitionsTotal.WithLabelValues("reserve", "error").Inc()
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	transitionsTotal.WithLabelValues("reserve", "ok").Inc()
	s.publish(ctx, domain.Event{
		Type:             domain.EventBookingInitiated,
		BookingReference: booking.BookingReference,
		TripReference:    tripRef,
		Seats:            booking.Seats,
		At:               s.clock.Now(),
	})
	return booking, nil
}

func (s *Service) revertSeats(ctx context.Context, tripRef string, seatNumbers []string) {
	_ = s.withRetry(ctx, "revert", func(ctx context.Context) error {
		trip, err := s.store.GetTripByReference(ctx, tripRef)
		if err != nil {
			return err
		}
		_, err = s.store.ReplaceTrip(ctx, domain.ReleaseSeats(trip, seatNumbers, s.clock.Now()))
		return err
	})
}

// ConfirmBooking completes an initiated booking, moving its seats from
// BLOCKED to BOOKED.
func (s *Service) ConfirmBooking(ctx context.Context, bookingRef string) (BookingSummary, error) {
	var summary BookingSummary
	err := s.withRetry(ctx, "confirm", func(ctx context.Context) error {
		booking, err := s.store.GetBookingByReference(ctx, bookingRef)
		if err != nil {
			return err
		}
		trip, err := s.store.GetTripByReference(ctx, booking.TripReference)
		if err != nil {
			return err
		}
		updatedTrip, updatedBooking, err := domain.Confirm(trip, booking, s.clock.Now())
		if err != nil {
			return err
		}
		if _, err := s.store.ReplaceTrip(ctx, updatedTrip); err != nil {
			return err
		}
		if _, err := s.store.ReplaceBooking(ctx, updatedBooking); err != nil {
			return err
		}
		summary = newBookingSummary(updatedBooking, updatedTrip)
		return nil
	})
	transitionsTotal.WithLabelValues("confirm", outcome(err)).Inc()
	if err != nil {
		return BookingSummary{}, err
	}
	s.publish(ctx, domain.Event{
		Type:             domain.EventBookingConfirmed,
		BookingReference: bookingRef,
		TripReference:    summary.TripReference,
		Seats:            summary.SeatNumbers(),
		At:               s.clock.Now(),
	})
	return summary, nil
}

// CancelBooking handles a user-initiated cancellation.
func (s *Service) CancelBooking(ctx context.Context, bookingRef string) error {
	var tripRef string
	err := s.withRetry(ctx, "cancel", func(ctx context.Context) error {
		booking, err := s.store.GetBookingByReference(ctx, bookingRef)
		if err != nil {
			return err
		}
		trip, err := s.store.GetTripByReference(ctx, booking.TripReference)
		if err != nil {
			return err
		}
		updatedTrip, updatedBooking, tripChanged, err := domain.Cancel(trip, booking, s.clock.Now())
		if err != nil {
			return err
		}
		if tripChanged {
			if _, err := s.store.ReplaceTrip(ctx, updatedTrip); err != nil {
				return err
			}
		}
		if _, err := s.store.ReplaceBooking(ctx, updatedBooking); err != nil {
			return err
		}
		tripRef = booking.TripReference
		return nil
	})
	transitionsTotal.WithLabelValues("cancel", outcome(err)).Inc()
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{
		Type:             domain.EventBookingCancelled,
		BookingReference: bookingRef,
		TripReference:    tripRef,
		At:               s.clock.Now(),
	})
	return nil
}

// ReleaseExpired drives the release-on-timeout transition for one booking.
// It is idempotent: a booking that is no longer INITIATED by the time it is
// processed is skipped without touching any seat. Returns whether the release
// was applied.
func (s *Service) ReleaseExpired(ctx context.Context, bookingRef string) (bool, error) {
	var released domain.Booking
	applied := false
	err := s.withRetry(ctx, "release", func(ctx context.Context) error {
		booking, err := s.store.GetBookingByReference(ctx, bookingRef)
		if err != nil {
			return err
		}
		updated, ok := domain.ReleaseOnTimeout(booking, s.clock.Now())
		if !ok {
			applied = false
			return nil
		}
		if _, err := s.store.ReplaceBooking(ctx, updated); err != nil {
			return err
		}
		released = updated
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}

	// The booking is cancelled; now reclaim its seats. A trip that vanished
	// is not an error for this best-effort path.
	err = s.withRetry(ctx, "release", func(ctx context.Context) error {
		trip, err := s.store.GetTripByReference(ctx, released.TripReference)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = s.store.ReplaceTrip(ctx, domain.ReleaseSeats(trip, released.Seats, s.clock.Now()))
		return err
	})
	if err != nil {
		return true, fmt.Errorf("release seats for %s: %w", bookingRef, err)
	}
	s.publish(ctx, domain.Event{
		Type:             domain.EventBookingReleased,
		BookingReference: bookingRef,
		TripReference:    released.TripReference,
		Seats:            released.Seats,
		At:               s.clock.Now(),
	})
	return true, nil
}

// ResetTrip returns a trip to SCHEDULED with all seats AVAILABLE and cancels
// every booking referencing it that is not already cancelled, bypassing both
// the trip-status gate and the completed-booking gate.
func (s *Service) ResetTrip(ctx context.Context, tripRef string) error {
	err := s.withRetry(ctx, "reset", func(ctx context.Context) error {
		trip, err := s.store.GetTripByReference(ctx, tripRef)
		if err != nil {
			return err
		}
		_, err = s.store.ReplaceTrip(ctx, domain.ResetTrip(trip, s.clock.Now()))
		return err
	})
	if err != nil {
		transitionsTotal.WithLabelValues("reset", outcome(err)).Inc()
		return err
	}

	bookings, err := s.store.GetBookingsByTripReference(ctx, tripRef)
	if err != nil {
		return fmt.Errorf("list bookings for %s: %w", tripRef, err)
	}
	var failures []error
	for _, booking := range bookings {
		if booking.Status == domain.BookingCancelled {
			continue
		}
		ref := booking.BookingReference
		err := s.withRetry(ctx, "reset", func(ctx context.Context) error {
			fresh, err := s.store.GetBookingByReference(ctx, ref)
			if err != nil {
				return err
			}
			if fresh.Status == domain.BookingCancelled {
				return nil
			}
			_, err = s.store.ReplaceBooking(ctx, domain.CancelUnconditionally(fresh, s.clock.Now()))
			return err
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("cancel booking %s: %w", ref, err))
		}
	}
	if len(failures) > 0 {
		transitionsTotal.WithLabelValues("reset", "error").Inc()
		return errors.Join(failures...)
	}
	transitionsTotal.WithLabelValues("reset", "ok").Inc()
	s.publish(ctx, domain.Event{Type: domain.EventTripReset, TripReference: tripRef, At: s.clock.Now()})
	return nil
}

// AddVehicle onboards a vehicle into the catalog. Duplicate VINs are rejected.
func (s *Service) AddVehicle(ctx context.Context, vehicle domain.Vehicle) error {
	if _, err := s.store.GetVehicleByVin(ctx, vehicle.Vin); err == nil {
		return domain.ErrVehicleAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	vehicle.ID = uuid.NewString()
	vehicle.UpdatedAt = s.clock.Now()
	return s.store.CreateVehicle(ctx, vehicle)
}

// GetVehicle retrieves a catalog entry by VIN.
func (s *Service) GetVehicle(ctx context.Context, vin string) (domain.Vehicle, error) {
	return s.store.GetVehicleByVin(ctx, vin)
}

// CreateTripRequest carries the schedule details for a new trip.
type CreateTripRequest struct {
	VehicleNumber string
	FromCity      string
	ToCity        string
	DepartureTime time.Time
	ArrivalTime   time.Time
}

// CreateTrip schedules a trip, copying the seat layout from the vehicle with
// every seat AVAILABLE.
func (s *Service) CreateTrip(ctx context.Context, req CreateTripRequest) (string, error) {
	vehicle, err := s.store.GetVehicleByVin(ctx, req.VehicleNumber)
	if err != nil {
		return "", err
	}

	seats := make([]domain.Seat, len(vehicle.Seats))
	for i, seat := range vehicle.Seats {
		seats[i] = domain.Seat{Number: seat.Number, Position: seat.Position, Status: domain.SeatAvailable}
	}
	trip := domain.Trip{
		ID:            uuid.NewString(),
		TripReference: domain.NewTripReference(),
		JourneyDate:   req.DepartureTime.Format(domain.JourneyDateLayout),
		Status:        domain.TripScheduled,
		Details: domain.TripDetails{
			FromCity:      req.FromCity,
			ToCity:        req.ToCity,
			DepartureTime: req.DepartureTime,
			ArrivalTime:   req.ArrivalTime,
		},
		Tsp:         vehicle.Tsp,
		Vin:         vehicle.Vin,
		VehicleName: vehicle.Details.Make + " " + vehicle.Details.Model,
		Seats:       seats,
		UpdatedAt:   s.clock.Now(),
	}
	return s.store.CreateTrip(ctx, trip)
}

// GetTrip retrieves a trip by its business reference.
func (s *Service) GetTrip(ctx context.Context, tripRef string) (domain.Trip, error) {
	return s.store.GetTripByReference(ctx, tripRef)
}

// SearchTrips finds trips by route and journey date.
func (s *Service) SearchTrips(ctx context.Context, fromCity, toCity, journeyDate string) ([]domain.Trip, error) {
	return s.store.GetTripsByRoute(ctx, fromCity, toCity, journeyDate)
}

// GetBooking retrieves a booking summary joined with its trip.
func (s *Service) GetBooking(ctx context.Context, bookingRef string) (BookingSummary, error) {
	booking, err := s.store.GetBookingByReference(ctx, bookingRef)
	if err != nil {
		return BookingSummary{}, err
	}
	trip, err := s.store.GetTripByReference(ctx, booking.TripReference)
	if err != nil {
		return BookingSummary{}, err
	}
	return newBookingSummary(booking, trip), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsRejection(err):
		return "rejected"
	case errors.Is(err, domain.ErrContention):
		return "contention"
	default:
		return "error"
	}
}
