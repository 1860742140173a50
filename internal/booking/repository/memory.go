package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/example/seatlite/internal/booking/domain"
)

// MemoryStore is an in-memory document store keyed by business reference,
// suitable for tests and local demos. Replace operations enforce the same
// optimistic-concurrency contract as the durable backends: the caller's
// Version must equal the stored Version or the write fails.
type MemoryStore struct {
	mu       sync.RWMutex
	vehicles map[string]domain.Vehicle
	trips    map[string]domain.Trip
	bookings map[string]domain.Booking
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles: make(map[string]domain.Vehicle),
		trips:    make(map[string]domain.Trip),
		bookings: make(map[string]domain.Booking),
	}
}

func cloneTrip(t domain.Trip) domain.Trip {
	t.Seats = append([]domain.Seat(nil), t.Seats...)
	return t
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.Seats = append([]string(nil), b.Seats...)
	return b
}

func cloneVehicle(v domain.Vehicle) domain.Vehicle {
	v.Seats = append([]domain.Seat(nil), v.Seats...)
	return v
}

// GetVehicleByVin retrieves a vehicle.
func (m *MemoryStore) GetVehicleByVin(_ context.Context, vin string) (domain.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vehicle, ok := m.vehicles[vin]
	if !ok {
		return domain.Vehicle{}, domain.ErrNotFound
	}
	return cloneVehicle(vehicle), nil
}

// CreateVehicle stores a vehicle, rejecting duplicate VINs.
func (m *MemoryStore) CreateVehicle(_ context.Context, vehicle domain.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.vehicles[vehicle.Vin]; exists {
		return domain.ErrVehicleAlreadyExists
	}
	vehicle.Version = 1
	m.vehicles[vehicle.Vin] = cloneVehicle(vehicle)
	return nil
}

// GetTripByReference retrieves a trip.
func (m *MemoryStore) GetTripByReference(_ context.Context, ref string) (domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[ref]
	if !ok {
		return domain.Trip{}, domain.ErrNotFound
	}
	return cloneTrip(trip), nil
}

// GetTripsByRoute returns trips matching origin, destination and journey date.
func (m *MemoryStore) GetTripsByRoute(_ context.Context, fromCity, toCity, journeyDate string) ([]domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var trips []domain.Trip
	for _, trip := range m.trips {
		if trip.Details.FromCity == fromCity && trip.Details.ToCity == toCity && trip.JourneyDate == journeyDate {
			trips = append(trips, cloneTrip(trip))
		}
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].TripReference < trips[j].TripReference })
	return trips, nil
}

// CreateTrip stores a trip with version 1 and returns its reference.
func (m *MemoryStore) CreateTrip(_ context.Context, trip domain.Trip) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip.Version = 1
	m.trips[trip.TripReference] = cloneTrip(trip)
	return trip.TripReference, nil
}

// ReplaceTrip performs a conditional replace keyed on the trip's version.
func (m *MemoryStore) ReplaceTrip(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.trips[trip.TripReference]
	if !ok {
		return domain.Trip{}, domain.ErrNotFound
	}
	if existing.Version != trip.Version {
		return domain.Trip{}, domain.ErrVersionConflict
	}
	trip.Version++
	m.trips[trip.TripReference] = cloneTrip(trip)
	return cloneTrip(trip), nil
}

// GetBookingByReference retrieves a booking.
func (m *MemoryStore) GetBookingByReference(_ context.Context, ref string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[ref]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return cloneBooking(booking), nil
}

// GetBookingsByTripReference returns every booking referencing the trip.
func (m *MemoryStore) GetBookingsByTripReference(_ context.Context, tripRef string) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bookings []domain.Booking
	for _, booking := range m.bookings {
		if booking.TripReference == tripRef {
			bookings = append(bookings, cloneBooking(booking))
		}
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].BookingReference < bookings[j].BookingReference
	})
	return bookings, nil
}

// CreateBooking stores a booking with version 1 and returns its reference.
func (m *MemoryStore) CreateBooking(_ context.Context, booking domain.Booking) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking.Version = 1
	m.bookings[booking.BookingReference] = cloneBooking(booking)
	return booking.BookingReference, nil
}

// ReplaceBooking performs a conditional replace keyed on the booking's version.
func (m *MemoryStore) ReplaceBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[booking.BookingReference]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if existing.Version != booking.Version {
		return domain.Booking{}, domain.ErrVersionConflict
	}
	booking.Version++
	m.bookings[booking.BookingReference] = cloneBooking(booking)
	return cloneBooking(booking), nil
}

// GetExpiredInitiatedBookings returns INITIATED bookings whose initiation
// instant is strictly older than cutoff, oldest first.
func (m *MemoryStore) GetExpiredInitiatedBookings(_ context.Context, cutoff int64) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var expired []domain.Booking
	for _, booking := range m.bookings {
		if booking.Status == domain.BookingInitiated && booking.InitiatedAt < cutoff {
			expired = append(expired, cloneBooking(booking))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].InitiatedAt != expired[j].InitiatedAt {
			return expired[i].InitiatedAt < expired[j].InitiatedAt
		}
		return expired[i].BookingReference < expired[j].BookingReference
	})
	return expired, nil
}
