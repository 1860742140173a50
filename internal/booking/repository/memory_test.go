package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/repository"
)

func TestMemoryReplaceTripEnforcesVersion(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	trip := domain.Trip{TripReference: "TRIP0001", Status: domain.TripScheduled}
	_, err := store.CreateTrip(ctx, trip)
	require.NoError(t, err)

	stored, err := store.GetTripByReference(ctx, "TRIP0001")
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)

	updated, err := store.ReplaceTrip(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	// stale version loses
	_, err = store.ReplaceTrip(ctx, stored)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = store.ReplaceTrip(ctx, domain.Trip{TripReference: "MISSING1", Version: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryReplaceBookingEnforcesVersion(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	booking := domain.Booking{BookingReference: "BOOK01", Status: domain.BookingInitiated}
	_, err := store.CreateBooking(ctx, booking)
	require.NoError(t, err)

	stored, err := store.GetBookingByReference(ctx, "BOOK01")
	require.NoError(t, err)

	stored.Status = domain.BookingCompleted
	updated, err := store.ReplaceBooking(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = store.ReplaceBooking(ctx, stored)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestMemoryExpiredQueryOrdersOldestFirst(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC).Unix()

	seed := []domain.Booking{
		{BookingReference: "MID001", Status: domain.BookingInitiated, InitiatedAt: base - 300, TripReference: "T1"},
		{BookingReference: "OLD001", Status: domain.BookingInitiated, InitiatedAt: base - 600, TripReference: "T2"},
		{BookingReference: "DONE01", Status: domain.BookingCompleted, InitiatedAt: base - 600, TripReference: "T1"},
		{BookingReference: "NEW001", Status: domain.BookingInitiated, InitiatedAt: base - 30, TripReference: "T1"},
	}
	for _, b := range seed {
		_, err := store.CreateBooking(ctx, b)
		require.NoError(t, err)
	}

	expired, err := store.GetExpiredInitiatedBookings(ctx, base-120)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	require.Equal(t, "OLD001", expired[0].BookingReference)
	require.Equal(t, "MID001", expired[1].BookingReference)
}

func TestMemoryCreateVehicleRejectsDuplicate(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateVehicle(ctx, domain.Vehicle{Vin: "VIN-001"}))
	err := store.CreateVehicle(ctx, domain.Vehicle{Vin: "VIN-001"})
	require.ErrorIs(t, err, domain.ErrVehicleAlreadyExists)
}

func TestMemoryRouteQueryFiltersExactly(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	trips := []domain.Trip{
		{TripReference: "T1", JourneyDate: "03-10-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Dallas"}},
		{TripReference: "T2", JourneyDate: "03-10-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Dallas"}},
		{TripReference: "T3", JourneyDate: "03-11-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Dallas"}},
		{TripReference: "T4", JourneyDate: "03-10-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Houston"}},
	}
	for _, trip := range trips {
		_, err := store.CreateTrip(ctx, trip)
		require.NoError(t, err)
	}

	found, err := store.GetTripsByRoute(ctx, "Austin", "Dallas", "03-10-2024")
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "T1", found[0].TripReference)
	require.Equal(t, "T2", found[1].TripReference)
}

func TestMemoryReturnsCopies(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateTrip(ctx, domain.Trip{
		TripReference: "T1",
		Seats:         []domain.Seat{{Number: "1", Status: domain.SeatAvailable}},
	})
	require.NoError(t, err)

	first, err := store.GetTripByReference(ctx, "T1")
	require.NoError(t, err)
	first.Seats[0].Status = domain.SeatBooked

	second, err := store.GetTripByReference(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, domain.SeatAvailable, second.Seats[0].Status)
}
