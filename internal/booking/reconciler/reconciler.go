package reconciler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/seatlite/internal/booking/domain"
)

// Releaser drives one release-on-timeout transition per booking. Satisfied by
// the booking service.
type Releaser interface {
	ReleaseExpired(ctx context.Context, bookingRef string) (bool, error)
}

// Config defines tunables for the reconciler.
type Config struct {
	// Interval between runs.
	Interval time.Duration
	// Timeout is how long an INITIATED booking may stay unconfirmed.
	Timeout time.Duration
	// MaxWorkers bounds how many trip groups are processed concurrently.
	MaxWorkers int
}

// Reconciler periodically scans for expired reservations and releases their
// seats. Expired bookings are partitioned by trip reference; a single trip's
// bookings are processed strictly in query order while distinct trips run
// concurrently on a bounded pool. Overlapping runs are harmless because the
// per-booking release is a no-op on anything no longer INITIATED.
type Reconciler struct {
	store    domain.Store
	releaser Releaser
	clock    domain.Clock
	logger   *zap.Logger
	cfg      Config
	tracer   trace.Tracer
}

// New constructs a reconciler.
func New(store domain.Store, releaser Releaser, clock domain.Clock, logger *zap.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2 * runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Reconciler{
		store:    store,
		releaser: releaser,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		tracer:   otel.Tracer("booking.reconciler"),
	}
}

// Run starts the fixed-interval loop until the context is cancelled. The
// first scan happens immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.store == nil || r.releaser == nil {
		return errors.New("reconciler requires a store and a releaser")
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("reconciliation run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single reconciliation pass. It returns only after every
// dispatched trip group has finished; per-booking failures are logged and
// counted, never propagated, so one stuck booking cannot abort its siblings.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.run")
	defer span.End()
	started := time.Now()

	cutoff := r.clock.Now().Add(-r.cfg.Timeout).Unix()
	expired, err := r.store.GetExpiredInitiatedBookings(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("expired_bookings", len(expired)))
	r.logger.Info("releasing expired reservations",
		zap.Int("count", len(expired)), zap.Int64("cutoff", cutoff))

	groups, order := groupByTrip(expired)
	expiredFound.Add(float64(len(expired)))

	sem := make(chan struct{}, r.cfg.MaxWorkers)
	var wg sync.WaitGroup
	for _, tripRef := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(tripRef string, bookings []domain.Booking) {
			defer wg.Done()
			defer func() { <-sem }()
			r.releaseGroup(ctx, tripRef, bookings)
		}(tripRef, groups[tripRef])
	}
	wg.Wait()

	runDuration.Observe(time.Since(started).Seconds())
	return nil
}

// releaseGroup processes one trip's expired bookings sequentially so their
// trip writes never interleave.
func (r *Reconciler) releaseGroup(ctx context.Context, tripRef string, bookings []domain.Booking) {
	ctx, span := r.tracer.Start(ctx, "reconciler.group",
		trace.WithAttributes(attribute.String("trip_reference", tripRef)))
	defer span.End()

	for _, booking := range bookings {
		applied, err := r.releaser.ReleaseExpired(ctx, booking.BookingReference)
		switch {
		case err != nil:
			releasesTotal.WithLabelValues("error").Inc()
			r.logger.Warn("release failed",
				zap.String("booking_reference", booking.BookingReference),
				zap.String("trip_reference", tripRef),
				zap.Error(err))
		case applied:
			releasesTotal.WithLabelValues("released").Inc()
		default:
			releasesTotal.WithLabelValues("skipped").Inc()
		}
	}
}

// groupByTrip partitions bookings by trip reference, preserving the query
// order both across groups and within each group.
func groupByTrip(bookings []domain.Booking) (map[string][]domain.Booking, []string) {
	groups := make(map[string][]domain.Booking)
	var order []string
	for _, booking := range bookings {
		if _, seen := groups[booking.TripReference]; !seen {
			order = append(order, booking.TripReference)
		}
		groups[booking.TripReference] = append(groups[booking.TripReference], booking)
	}
	return groups, order
}
