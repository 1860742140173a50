package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/seatlite/internal/booking/domain"
)

// PostgresStore keeps each document as a JSONB blob with a version column.
// Conditional replace is a single UPDATE guarded by the version the caller
// read; zero affected rows means either a concurrent writer won or the
// document is gone, and the two are told apart with an existence probe.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs the store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the backing tables when they do not exist yet.
func (p *PostgresStore) InitSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			vin TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS trips (
			reference TEXT PRIMARY KEY,
			from_city TEXT NOT NULL,
			to_city TEXT NOT NULL,
			journey_date TEXT NOT NULL,
			doc JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			reference TEXT PRIMARY KEY,
			trip_reference TEXT NOT NULL,
			status TEXT NOT NULL,
			initiated_at BIGINT NOT NULL,
			doc JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS trips_route_idx ON trips (from_city, to_city, journey_date)`,
		`CREATE INDEX IF NOT EXISTS bookings_trip_idx ON bookings (trip_reference)`,
		`CREATE INDEX IF NOT EXISTS bookings_expiry_idx ON bookings (status, initiated_at)`,
	}
	for _, stmt := range ddl {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func scanDoc(row *sql.Row, out any) error {
	var raw []byte
	var version int64
	if err := row.Scan(&raw, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	switch doc := out.(type) {
	case *domain.Trip:
		doc.Version = version
	case *domain.Booking:
		doc.Version = version
	case *domain.Vehicle:
		doc.Version = version
	}
	return nil
}

// GetVehicleByVin retrieves a vehicle.
func (p *PostgresStore) GetVehicleByVin(ctx context.Context, vin string) (domain.Vehicle, error) {
	var vehicle domain.Vehicle
	row := p.db.QueryRowContext(ctx, `SELECT doc, version FROM vehicles WHERE vin = $1`, vin)
	if err := scanDoc(row, &vehicle); err != nil {
		return domain.Vehicle{}, err
	}
	return vehicle, nil
}

// CreateVehicle inserts a vehicle, rejecting duplicate VINs.
func (p *PostgresStore) CreateVehicle(ctx context.Context, vehicle domain.Vehicle) error {
	vehicle.Version = 1
	raw, err := json.Marshal(vehicle)
	if err != nil {
		return fmt.Errorf("encode vehicle: %w", err)
	}
	result, err := p.db.ExecContext(ctx,
		`INSERT INTO vehicles (vin, doc, version) VALUES ($1, $2, 1) ON CONFLICT (vin) DO NOTHING`,
		vehicle.Vin, raw)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.ErrVehicleAlreadyExists
	}
	return nil
}

// GetTripByReference retrieves a trip.
func (p *PostgresStore) GetTripByReference(ctx context.Context, ref string) (domain.Trip, error) {
	var trip domain.Trip
	row := p.db.QueryRowContext(ctx, `SELECT doc, version FROM trips WHERE reference = $1`, ref)
	if err := scanDoc(row, &trip); err != nil {
		return domain.Trip{}, err
	}
	return trip, nil
}

// GetTripsByRoute returns trips matching origin, destination and journey date.
func (p *PostgresStore) GetTripsByRoute(ctx context.Context, fromCity, toCity, journeyDate string) ([]domain.Trip, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc, version FROM trips WHERE from_city = $1 AND to_city = $2 AND journey_date = $3 ORDER BY reference`,
		fromCity, toCity, journeyDate)
	if err != nil {
		return nil, fmt.Errorf("select trips: %w", err)
	}
	defer rows.Close()
	var trips []domain.Trip
	for rows.Next() {
		var raw []byte
		var version int64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		var trip domain.Trip
		if err := json.Unmarshal(raw, &trip); err != nil {
			return nil, fmt.Errorf("decode trip: %w", err)
		}
		trip.Version = version
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// CreateTrip inserts a trip and returns its reference.
func (p *PostgresStore) CreateTrip(ctx context.Context, trip domain.Trip) (string, error) {
	trip.Version = 1
	raw, err := json.Marshal(trip)
	if err != nil {
		return "", fmt.Errorf("encode trip: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO trips (reference, from_city, to_city, journey_date, doc, version) VALUES ($1, $2, $3, $4, $5, 1)`,
		trip.TripReference, trip.Details.FromCity, trip.Details.ToCity, trip.JourneyDate, raw)
	if err != nil {
		return "", fmt.Errorf("insert trip: %w", err)
	}
	return trip.TripReference, nil
}

// ReplaceTrip performs a conditional replace keyed on the trip's version.
func (p *PostgresStore) ReplaceTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	readVersion := trip.Version
	trip.Version = readVersion + 1
	raw, err := json.Marshal(trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("encode trip: %w", err)
	}
	result, err := p.db.ExecContext(ctx,
		`UPDATE trips SET doc = $2, version = version + 1 WHERE reference = $1 AND version = $3`,
		trip.TripReference, raw, readVersion)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("update trip: %w", err)
	}
	if err := p.checkReplaced(ctx, result, `SELECT 1 FROM trips WHERE reference = $1`, trip.TripReference); err != nil {
		return domain.Trip{}, err
	}
	return trip, nil
}

// GetBookingByReference retrieves a booking.
func (p *PostgresStore) GetBookingByReference(ctx context.Context, ref string) (domain.Booking, error) {
	var booking domain.Booking
	row := p.db.QueryRowContext(ctx, `SELECT doc, version FROM bookings WHERE reference = $1`, ref)
	if err := scanDoc(row, &booking); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

// GetBookingsByTripReference returns every booking referencing the trip.
func (p *PostgresStore) GetBookingsByTripReference(ctx context.Context, tripRef string) ([]domain.Booking, error) {
	return p.queryBookings(ctx,
		`SELECT doc, version FROM bookings WHERE trip_reference = $1 ORDER BY reference`, tripRef)
}

// CreateBooking inserts a booking and returns its reference.
func (p *PostgresStore) CreateBooking(ctx context.Context, booking domain.Booking) (string, error) {
	booking.Version = 1
	raw, err := json.Marshal(booking)
	if err != nil {
		return "", fmt.Errorf("encode booking: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO bookings (reference, trip_reference, status, initiated_at, doc, version) VALUES ($1, $2, $3, $4, $5, 1)`,
		booking.BookingReference, booking.TripReference, string(booking.Status), booking.InitiatedAt, raw)
	if err != nil {
		return "", fmt.Errorf("insert booking: %w", err)
	}
	return booking.BookingReference, nil
}

// ReplaceBooking performs a conditional replace keyed on the booking's version.
func (p *PostgresStore) ReplaceBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	readVersion := booking.Version
	booking.Version = readVersion + 1
	raw, err := json.Marshal(booking)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("encode booking: %w", err)
	}
	result, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET doc = $2, status = $3, version = version + 1 WHERE reference = $1 AND version = $4`,
		booking.BookingReference, raw, string(booking.Status), readVersion)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if err := p.checkReplaced(ctx, result, `SELECT 1 FROM bookings WHERE reference = $1`, booking.BookingReference); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

// GetExpiredInitiatedBookings returns INITIATED bookings initiated strictly
// before cutoff, oldest first.
func (p *PostgresStore) GetExpiredInitiatedBookings(ctx context.Context, cutoff int64) ([]domain.Booking, error) {
	return p.queryBookings(ctx,
		`SELECT doc, version FROM bookings WHERE status = $1 AND initiated_at < $2 ORDER BY initiated_at, reference`,
		string(domain.BookingInitiated), cutoff)
}

func (p *PostgresStore) queryBookings(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()
	var bookings []domain.Booking
	for rows.Next() {
		var raw []byte
		var version int64
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		var booking domain.Booking
		if err := json.Unmarshal(raw, &booking); err != nil {
			return nil, fmt.Errorf("decode booking: %w", err)
		}
		booking.Version = version
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

func (p *PostgresStore) checkReplaced(ctx context.Context, result sql.Result, existsQuery string, ref string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = p.db.QueryRowContext(ctx, existsQuery, ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("existence probe: %w", err)
	}
	return domain.ErrVersionConflict
}
