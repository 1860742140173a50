package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/repository"
)

func newRedisStore(t *testing.T) *repository.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewRedisStore(client, "")
}

func TestRedisTripRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	trip := domain.Trip{
		TripReference: "TRIP0001",
		JourneyDate:   "03-10-2024",
		Status:        domain.TripScheduled,
		Details:       domain.TripDetails{FromCity: "Austin", ToCity: "Dallas"},
		Seats:         []domain.Seat{{Number: "1", Position: domain.PositionWindow, Status: domain.SeatAvailable}},
	}
	ref, err := store.CreateTrip(ctx, trip)
	require.NoError(t, err)
	require.Equal(t, "TRIP0001", ref)

	stored, err := store.GetTripByReference(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)
	require.Equal(t, domain.TripScheduled, stored.Status)

	_, err = store.GetTripByReference(ctx, "MISSING1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisReplaceTripEnforcesVersion(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, err := store.CreateTrip(ctx, domain.Trip{TripReference: "TRIP0001", Status: domain.TripScheduled})
	require.NoError(t, err)

	stored, err := store.GetTripByReference(ctx, "TRIP0001")
	require.NoError(t, err)

	stored.Status = domain.TripStarted
	updated, err := store.ReplaceTrip(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	// the first reader's version is now stale
	_, err = store.ReplaceTrip(ctx, stored)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = store.ReplaceTrip(ctx, domain.Trip{TripReference: "MISSING1", Version: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisRouteIndex(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	for _, trip := range []domain.Trip{
		{TripReference: "T1", JourneyDate: "03-10-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Dallas"}},
		{TripReference: "T2", JourneyDate: "03-10-2024", Details: domain.TripDetails{FromCity: "Austin", ToCity: "Houston"}},
	} {
		_, err := store.CreateTrip(ctx, trip)
		require.NoError(t, err)
	}

	found, err := store.GetTripsByRoute(ctx, "Austin", "Dallas", "03-10-2024")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "T1", found[0].TripReference)

	found, err = store.GetTripsByRoute(ctx, "Dallas", "Austin", "03-10-2024")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRedisVehicleDuplicateVin(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateVehicle(ctx, domain.Vehicle{Vin: "VIN-001"}))
	err := store.CreateVehicle(ctx, domain.Vehicle{Vin: "VIN-001"})
	require.ErrorIs(t, err, domain.ErrVehicleAlreadyExists)
}

func TestRedisPendingIndexDrivesExpiryQuery(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC).Unix()

	for _, b := range []domain.Booking{
		{BookingReference: "OLD001", Status: domain.BookingInitiated, InitiatedAt: base - 600, TripReference: "T1", Seats: []string{"1"}},
		{BookingReference: "MID001", Status: domain.BookingInitiated, InitiatedAt: base - 300, TripReference: "T2", Seats: []string{"1"}},
		{BookingReference: "NEW001", Status: domain.BookingInitiated, InitiatedAt: base - 30, TripReference: "T1", Seats: []string{"2"}},
	} {
		_, err := store.CreateBooking(ctx, b)
		require.NoError(t, err)
	}

	expired, err := store.GetExpiredInitiatedBookings(ctx, base-120)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	require.Equal(t, "OLD001", expired[0].BookingReference)
	require.Equal(t, "MID001", expired[1].BookingReference)
}

func TestRedisReplaceBookingLeavesPendingIndex(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC).Unix()

	_, err := store.CreateBooking(ctx, domain.Booking{
		BookingReference: "BOOK01",
		Status:           domain.BookingInitiated,
		InitiatedAt:      base - 600,
		TripReference:    "T1",
	})
	require.NoError(t, err)

	booking, err := store.GetBookingByReference(ctx, "BOOK01")
	require.NoError(t, err)
	booking.Status = domain.BookingCompleted
	_, err = store.ReplaceBooking(ctx, booking)
	require.NoError(t, err)

	expired, err := store.GetExpiredInitiatedBookings(ctx, base)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestRedisTripBookingsIndex(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	for _, b := range []domain.Booking{
		{BookingReference: "B1", Status: domain.BookingInitiated, TripReference: "T1"},
		{BookingReference: "B2", Status: domain.BookingCompleted, TripReference: "T1"},
		{BookingReference: "B3", Status: domain.BookingInitiated, TripReference: "T2"},
	} {
		_, err := store.CreateBooking(ctx, b)
		require.NoError(t, err)
	}

	bookings, err := store.GetBookingsByTripReference(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	for _, b := range bookings {
		require.Equal(t, "T1", b.TripReference)
	}
}
