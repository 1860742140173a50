package domain

import (
	"context"
	"errors"
	"time"
)

// JourneyDateLayout is the wire format of a trip's journey date (MM-DD-YYYY).
const JourneyDateLayout = "01-02-2006"

type TripStatus string

const (
	TripScheduled TripStatus = "SCHEDULED"
	TripStarted   TripStatus = "STARTED"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

type BookingStatus string

const (
	BookingInitiated BookingStatus = "INITIATED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted out of the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatBlocked   SeatStatus = "BLOCKED"
	SeatBooked    SeatStatus = "BOOKED"
)

type SeatPosition string

const (
	PositionWindow SeatPosition = "WINDOW"
	PositionMiddle SeatPosition = "MIDDLE"
	PositionAisle  SeatPosition = "AISLE"
)

// ParseSeatPosition maps a free-form position label to a SeatPosition.
func ParseSeatPosition(value string) (SeatPosition, error) {
	switch SeatPosition(normalizeUpper(value)) {
	case PositionWindow:
		return PositionWindow, nil
	case PositionMiddle:
		return PositionMiddle, nil
	case PositionAisle:
		return PositionAisle, nil
	}
	return "", errors.New("unknown seat position: " + value)
}

func normalizeUpper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

// Rejection sentinels. Each maps to a distinct, stable response code at the
// transport boundary; the handler owns that table.
var (
	ErrVehicleAlreadyExists     = errors.New("vehicle already exists")
	ErrSeatUnavailable          = errors.New("seat not available")
	ErrBookingAlreadyCancelled  = errors.New("booking already cancelled")
	ErrBookingAlreadyCompleted  = errors.New("booking already completed")
	ErrBookingCannotBeCancelled = errors.New("booking cannot be cancelled")
	ErrTripAlreadyStarted       = errors.New("trip already started")
	ErrTripAlreadyCompleted     = errors.New("trip already completed")
	ErrTripAlreadyCancelled     = errors.New("trip already cancelled")
)

// Store-level errors.
var (
	// ErrNotFound indicates a referenced trip, booking or vehicle does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict indicates the stored version no longer matches the
	// version the caller read. Recovered by the service's re-read retry loop.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrContention is surfaced after the retry budget for version conflicts
	// is exhausted.
	ErrContention = errors.New("persistent write contention")
)

// IsRejection reports whether err is a terminal, user-facing transition
// rejection (as opposed to a transient or infrastructure failure).
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrVehicleAlreadyExists,
		ErrSeatUnavailable,
		ErrBookingAlreadyCancelled,
		ErrBookingAlreadyCompleted,
		ErrBookingCannotBeCancelled,
		ErrTripAlreadyStarted,
		ErrTripAlreadyCompleted,
		ErrTripAlreadyCancelled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Seat struct {
	Number   string       `json:"number"`
	Position SeatPosition `json:"position"`
	Status   SeatStatus   `json:"status"`
}

type VehicleDetails struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  string `json:"year"`
}

type Vehicle struct {
	ID        string         `json:"id"`
	Tsp       string         `json:"tsp"`
	Vin       string         `json:"vin"`
	Details   VehicleDetails `json:"details"`
	Seats     []Seat         `json:"seats"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type TripDetails struct {
	FromCity      string    `json:"from_city"`
	ToCity        string    `json:"to_city"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
}

// Trip is a scheduled service instance carrying its own copy of the vehicle's
// seat layout. The seat array is the single source of truth for occupancy.
type Trip struct {
	ID            string      `json:"id"`
	TripReference string      `json:"trip_reference"`
	JourneyDate   string      `json:"journey_date"`
	Status        TripStatus  `json:"status"`
	Details       TripDetails `json:"details"`
	Tsp           string      `json:"tsp"`
	Vin           string      `json:"vin"`
	VehicleName   string      `json:"vehicle_name"`
	Seats         []Seat      `json:"seats"`
	Version       int64       `json:"version"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CloneSeats returns a copy of the seat array so transition functions never
// alias the caller's slice.
func (t Trip) CloneSeats() []Seat {
	return append([]Seat(nil), t.Seats...)
}

// Seat returns the index of the seat with the given number, or -1.
func (t Trip) SeatIndex(number string) int {
	for i := range t.Seats {
		if t.Seats[i].Number == number {
			return i
		}
	}
	return -1
}

// Booking is a reservation record claiming a subset of a trip's seats.
// InitiatedAt is epoch seconds; the expiry query is a numeric range comparison.
type Booking struct {
	ID               string        `json:"id"`
	BookingReference string        `json:"booking_reference"`
	Status           BookingStatus `json:"status"`
	InitiatedAt      int64         `json:"initiated_at"`
	Seats            []string      `json:"seats"`
	TripReference    string        `json:"trip_reference"`
	Version          int64         `json:"version"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Store is the inventory store adapter consumed by the booking service and the
// reconciler. Replace operations compare the document's Version field against
// the stored version and fail with ErrVersionConflict on mismatch.
type Store interface {
	GetVehicleByVin(ctx context.Context, vin string) (Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle Vehicle) error

	GetTripByReference(ctx context.Context, ref string) (Trip, error)
	GetTripsByRoute(ctx context.Context, fromCity, toCity, journeyDate string) ([]Trip, error)
	CreateTrip(ctx context.Context, trip Trip) (string, error)
	ReplaceTrip(ctx context.Context, trip Trip) (Trip, error)

	GetBookingByReference(ctx context.Context, ref string) (Booking, error)
	GetBookingsByTripReference(ctx context.Context, tripRef string) ([]Booking, error)
	CreateBooking(ctx context.Context, booking Booking) (string, error)
	ReplaceBooking(ctx context.Context, booking Booking) (Booking, error)
	GetExpiredInitiatedBookings(ctx context.Context, cutoff int64) ([]Booking, error)
}

type EventType string

const (
	EventBookingInitiated EventType = "BookingInitiated"
	EventBookingConfirmed EventType = "BookingConfirmed"
	EventBookingCancelled EventType = "BookingCancelled"
	EventBookingReleased  EventType = "BookingReleased"
	EventTripReset        EventType = "TripReset"
)

// Event describes a booking lifecycle change published to interested parties.
type Event struct {
	Type             EventType `json:"type"`
	BookingReference string    `json:"booking_reference,omitempty"`
	TripReference    string    `json:"trip_reference"`
	Seats            []string  `json:"seats,omitempty"`
	At               time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
