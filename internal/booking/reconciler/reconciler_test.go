package reconciler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/reconciler"
	"github.com/example/seatlite/internal/booking/repository"
	"github.com/example/seatlite/internal/booking/service"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// trackingReleaser records the order releases arrive in and verifies that two
// bookings of the same trip are never in flight at once.
type trackingReleaser struct {
	mu       sync.Mutex
	inFlight map[string]int
	overlap  bool
	released []string
	byTrip   map[string][]string
	tripOf   map[string]string
	fail     map[string]error
	delay    time.Duration
}

func newTrackingReleaser(tripOf map[string]string) *trackingReleaser {
	return &trackingReleaser{
		inFlight: make(map[string]int),
		byTrip:   make(map[string][]string),
		tripOf:   tripOf,
		fail:     make(map[string]error),
	}
}

func (r *trackingReleaser) ReleaseExpired(_ context.Context, bookingRef string) (bool, error) {
	trip := r.tripOf[bookingRef]

	r.mu.Lock()
	r.inFlight[trip]++
	if r.inFlight[trip] > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight[trip]--
	r.released = append(r.released, bookingRef)
	r.byTrip[trip] = append(r.byTrip[trip], bookingRef)
	err := r.fail[bookingRef]
	r.mu.Unlock()

	if err != nil {
		return false, err
	}
	return true, nil
}

func seedExpired(t *testing.T, store *repository.MemoryStore, tripRef, bookingRef string, initiatedAt int64) {
	t.Helper()
	_, err := store.CreateBooking(context.Background(), domain.Booking{
		BookingReference: bookingRef,
		Status:           domain.BookingInitiated,
		InitiatedAt:      initiatedAt,
		Seats:            []string{"1"},
		TripReference:    tripRef,
	})
	require.NoError(t, err)
}

func TestRunOnceReleasesExpiredBookings(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	tripOf := map[string]string{"OLD001": "TRIPA", "OLD002": "TRIPA"}
	seedExpired(t, store, "TRIPA", "OLD001", now.Add(-10*time.Minute).Unix())
	seedExpired(t, store, "TRIPA", "OLD002", now.Add(-5*time.Minute).Unix())
	// fresh booking stays untouched
	seedExpired(t, store, "TRIPA", "NEW001", now.Add(-30*time.Second).Unix())

	rel := newTrackingReleaser(tripOf)
	rec := reconciler.New(store, rel, fixedClock{now}, zap.NewNop(), reconciler.Config{
		Timeout: 2 * time.Minute,
	})
	require.NoError(t, rec.RunOnce(context.Background()))

	require.ElementsMatch(t, []string{"OLD001", "OLD002"}, rel.released)
	// oldest first within the trip
	require.Equal(t, []string{"OLD001", "OLD002"}, rel.byTrip["TRIPA"])
}

func TestRunOnceNeverInterleavesOneTripsBookings(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	tripOf := make(map[string]string)
	refs := []string{"AAA001", "AAA002", "AAA003", "BBB001", "BBB002", "CCC001"}
	for i, ref := range refs {
		trip := "TRIP" + ref[:3]
		tripOf[ref] = trip
		seedExpired(t, store, trip, ref, now.Add(-time.Hour).Add(time.Duration(i)*time.Second).Unix())
	}

	rel := newTrackingReleaser(tripOf)
	rel.delay = 5 * time.Millisecond
	rec := reconciler.New(store, rel, fixedClock{now}, zap.NewNop(), reconciler.Config{
		Timeout:    2 * time.Minute,
		MaxWorkers: 4,
	})
	require.NoError(t, rec.RunOnce(context.Background()))

	require.False(t, rel.overlap, "two bookings of the same trip were in flight at once")
	require.Len(t, rel.released, len(refs))
	require.Equal(t, []string{"AAA001", "AAA002", "AAA003"}, rel.byTrip["TRIPAAA"])
	require.Equal(t, []string{"BBB001", "BBB002"}, rel.byTrip["TRIPBBB"])
}

func TestRunOnceIsolatesPerBookingFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	tripOf := map[string]string{"BAD001": "TRIPA", "OK0001": "TRIPA", "OK0002": "TRIPB"}
	seedExpired(t, store, "TRIPA", "BAD001", now.Add(-10*time.Minute).Unix())
	seedExpired(t, store, "TRIPA", "OK0001", now.Add(-9*time.Minute).Unix())
	seedExpired(t, store, "TRIPB", "OK0002", now.Add(-8*time.Minute).Unix())

	rel := newTrackingReleaser(tripOf)
	rel.fail["BAD001"] = errors.New("store unavailable")
	rec := reconciler.New(store, rel, fixedClock{now}, zap.NewNop(), reconciler.Config{
		Timeout: 2 * time.Minute,
	})
	require.NoError(t, rec.RunOnce(context.Background()))

	// the failure did not stop the rest of the group or other groups
	require.ElementsMatch(t, []string{"BAD001", "OK0001", "OK0002"}, rel.released)
}

func TestRunOnceAgainstRealService(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := fixedClock{now}
	svc := service.New(store, nil, clock, 3)

	_, err := store.CreateTrip(context.Background(), domain.Trip{
		TripReference: "TRIPRT01",
		Status:        domain.TripScheduled,
		Seats: []domain.Seat{
			{Number: "1", Position: domain.PositionWindow, Status: domain.SeatBlocked},
			{Number: "2", Position: domain.PositionAisle, Status: domain.SeatAvailable},
		},
	})
	require.NoError(t, err)
	seedExpired(t, store, "TRIPRT01", "EXP001", now.Add(-10*time.Minute).Unix())

	rec := reconciler.New(store, svc, clock, zap.NewNop(), reconciler.Config{Timeout: 2 * time.Minute})
	require.NoError(t, rec.RunOnce(context.Background()))

	booking, err := store.GetBookingByReference(context.Background(), "EXP001")
	require.NoError(t, err)
	require.Equal(t, domain.BookingCancelled, booking.Status)

	trip, err := store.GetTripByReference(context.Background(), "TRIPRT01")
	require.NoError(t, err)
	require.Equal(t, domain.SeatAvailable, trip.Seats[0].Status)

	// a second run finds nothing left to do
	require.NoError(t, rec.RunOnce(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	rel := newTrackingReleaser(nil)
	rec := reconciler.New(store, rel, fixedClock{time.Now()}, zap.NewNop(), reconciler.Config{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancellation")
	}
}
