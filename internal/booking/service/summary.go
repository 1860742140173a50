package service

import (
	"time"

	"github.com/example/seatlite/internal/booking/domain"
)

// SeatSummary describes one seat claimed by a booking.
type SeatSummary struct {
	Number   string              `json:"number"`
	Position domain.SeatPosition `json:"position"`
	Status   domain.SeatStatus   `json:"status"`
}

// VehicleSummary identifies the vehicle serving a booked trip.
type VehicleSummary struct {
	Tsp  string `json:"tsp"`
	Vin  string `json:"vin"`
	Name string `json:"name"`
}

// BookingSummary joins a booking with its trip for API responses.
type BookingSummary struct {
	BookingReference string               `json:"booking_reference"`
	BookingStatus    domain.BookingStatus `json:"booking_status"`
	TripReference    string               `json:"trip_reference"`
	FromCity         string               `json:"from_city"`
	ToCity           string               `json:"to_city"`
	DepartureTime    time.Time            `json:"departure_time"`
	ArrivalTime      time.Time            `json:"arrival_time"`
	Seats            []SeatSummary        `json:"seats"`
	Vehicle          VehicleSummary       `json:"vehicle"`
}

// SeatNumbers returns the claimed seat numbers.
func (b BookingSummary) SeatNumbers() []string {
	numbers := make([]string, len(b.Seats))
	for i, seat := range b.Seats {
		numbers[i] = seat.Number
	}
	return numbers
}

func newBookingSummary(booking domain.Booking, trip domain.Trip) BookingSummary {
	seats := make([]SeatSummary, 0, len(booking.Seats))
	for _, number := range booking.Seats {
		seat := SeatSummary{Number: number}
		if idx := trip.SeatIndex(number); idx >= 0 {
			seat.Position = trip.Seats[idx].Position
			seat.Status = trip.Seats[idx].Status
		}
		seats = append(seats, seat)
	}
	return BookingSummary{
		BookingReference: booking.BookingReference,
		BookingStatus:    booking.Status,
		TripReference:    trip.TripReference,
		FromCity:         trip.Details.FromCity,
		ToCity:           trip.Details.ToCity,
		DepartureTime:    trip.Details.DepartureTime,
		ArrivalTime:      trip.Details.ArrivalTime,
		Seats:            seats,
		Vehicle:          VehicleSummary{Tsp: trip.Tsp, Vin: trip.Vin, Name: trip.VehicleName},
	}
}
