package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/seatlite/internal/booking/domain"
)

const defaultKeyPrefix = "seatlite:"

// Conditional replace: compare the version key against the version the caller
// read, then swap the document and bump the version in one atomic step.
const replaceScript = `
local stored = redis.call('GET', KEYS[2])
if not stored then
  return -2
end
if tonumber(stored) ~= tonumber(ARGV[2]) then
  return -1
end
redis.call('SET', KEYS[1], ARGV[1])
return redis.call('INCR', KEYS[2])
`

// RedisStore is a Redis-backed document store. Documents live as JSON values
// with a sibling version counter driving conditional replace. Secondary
// indexes answer the route-search, per-trip and expiry queries:
//
//	route:{from}|{to}|{date}  set of trip references
//	tripbookings:{tripRef}    set of booking references
//	pending                   zset of INITIATED bookings scored by epoch
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	replace *redis.Script
}

// NewRedisStore constructs the store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, replace: redis.NewScript(replaceScript)}
}

func (r *RedisStore) key(parts ...string) string {
	key := r.prefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

func (r *RedisStore) getDoc(ctx context.Context, key string, out any) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) createDoc(ctx context.Context, docKey, verKey string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", docKey, err)
	}
	ok, err := r.client.SetNX(ctx, docKey, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", docKey, err)
	}
	if !ok {
		return fmt.Errorf("document %s already exists", docKey)
	}
	if err := r.client.Set(ctx, verKey, 1, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", verKey, err)
	}
	return nil
}

// replaceDoc runs the compare-and-swap script and returns the new version.
func (r *RedisStore) replaceDoc(ctx context.Context, docKey, verKey string, doc any, readVersion int64) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", docKey, err)
	}
	result, err := r.replace.Run(ctx, r.client, []string{docKey, verKey}, raw, readVersion).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis replace %s: %w", docKey, err)
	}
	switch result {
	case -2:
		return 0, domain.ErrNotFound
	case -1:
		return 0, domain.ErrVersionConflict
	}
	return result, nil
}

// GetVehicleByVin retrieves a vehicle document.
func (r *RedisStore) GetVehicleByVin(ctx context.Context, vin string) (domain.Vehicle, error) {
	var vehicle domain.Vehicle
	if err := r.getDoc(ctx, r.key("vehicle", vin), &vehicle); err != nil {
		return domain.Vehicle{}, err
	}
	return vehicle, nil
}

// CreateVehicle stores a vehicle, rejecting duplicate VINs.
func (r *RedisStore) CreateVehicle(ctx context.Context, vehicle domain.Vehicle) error {
	vehicle.Version = 1
	err := r.createDoc(ctx, r.key("vehicle", vehicle.Vin), r.key("vehicle", vehicle.Vin, "ver"), vehicle)
	if err != nil {
		if exists, _ := r.client.Exists(ctx, r.key("vehicle", vehicle.Vin)).Result(); exists > 0 {
			return domain.ErrVehicleAlreadyExists
		}
		return err
	}
	return nil
}

// GetTripByReference retrieves a trip document.
func (r *RedisStore) GetTripByReference(ctx context.Context, ref string) (domain.Trip, error) {
	var trip domain.Trip
	if err := r.getDoc(ctx, r.key("trip", ref), &trip); err != nil {
		return domain.Trip{}, err
	}
	return trip, nil
}

func (r *RedisStore) routeKey(fromCity, toCity, journeyDate string) string {
	return r.key("route", fromCity+"|"+toCity+"|"+journeyDate)
}

// GetTripsByRoute resolves the route index and loads each trip.
func (r *RedisStore) GetTripsByRoute(ctx context.Context, fromCity, toCity, journeyDate string) ([]domain.Trip, error) {
	refs, err := r.client.SMembers(ctx, r.routeKey(fromCity, toCity, journeyDate)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers route: %w", err)
	}
	trips := make([]domain.Trip, 0, len(refs))
	for _, ref := range refs {
		trip, err := r.GetTripByReference(ctx, ref)
		if err == domain.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// CreateTrip stores a trip and indexes it by route.
func (r *RedisStore) CreateTrip(ctx context.Context, trip domain.Trip) (string, error) {
	trip.Version = 1
	if err := r.createDoc(ctx, r.key("trip", trip.TripReference), r.key("trip", trip.TripReference, "ver"), trip); err != nil {
		return "", err
	}
	routeKey := r.routeKey(trip.Details.FromCity, trip.Details.ToCity, trip.JourneyDate)
	if err := r.client.SAdd(ctx, routeKey, trip.TripReference).Err(); err != nil {
		return "", fmt.Errorf("redis sadd route: %w", err)
	}
	return trip.TripReference, nil
}

// ReplaceTrip performs a conditional replace keyed on the trip's version.
func (r *RedisStore) ReplaceTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	readVersion := trip.Version
	trip.Version = readVersion + 1
	version, err := r.replaceDoc(ctx, r.key("trip", trip.TripReference), r.key("trip", trip.TripReference, "ver"), trip, readVersion)
	if err != nil {
		return domain.Trip{}, err
	}
	trip.Version = version
	return trip, nil
}

// GetBookingByReference retrieves a booking document.
func (r *RedisStore) GetBookingByReference(ctx context.Context, ref string) (domain.Booking, error) {
	var booking domain.Booking
	if err := r.getDoc(ctx, r.key("booking", ref), &booking); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

// GetBookingsByTripReference resolves the per-trip index and loads each booking.
func (r *RedisStore) GetBookingsByTripReference(ctx context.Context, tripRef string) ([]domain.Booking, error) {
	refs, err := r.client.SMembers(ctx, r.key("tripbookings", tripRef)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers tripbookings: %w", err)
	}
	bookings := make([]domain.Booking, 0, len(refs))
	for _, ref := range refs {
		booking, err := r.GetBookingByReference(ctx, ref)
		if err == domain.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

// CreateBooking stores a booking, indexes it by trip and, while INITIATED,
// tracks it in the pending zset for the expiry query.
func (r *RedisStore) CreateBooking(ctx context.Context, booking domain.Booking) (string, error) {
	booking.Version = 1
	ref := booking.BookingReference
	if err := r.createDoc(ctx, r.key("booking", ref), r.key("booking", ref, "ver"), booking); err != nil {
		return "", err
	}
	if err := r.client.SAdd(ctx, r.key("tripbookings", booking.TripReference), ref).Err(); err != nil {
		return "", fmt.Errorf("redis sadd tripbookings: %w", err)
	}
	if booking.Status == domain.BookingInitiated {
		member := redis.Z{Score: float64(booking.InitiatedAt), Member: ref}
		if err := r.client.ZAdd(ctx, r.key("pending"), member).Err(); err != nil {
			return "", fmt.Errorf("redis zadd pending: %w", err)
		}
	}
	return ref, nil
}

// ReplaceBooking performs a conditional replace and maintains the pending
// index: a booking leaving INITIATED drops out of the expiry candidates.
func (r *RedisStore) ReplaceBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	readVersion := booking.Version
	booking.Version = readVersion + 1
	ref := booking.BookingReference
	version, err := r.replaceDoc(ctx, r.key("booking", ref), r.key("booking", ref, "ver"), booking, readVersion)
	if err != nil {
		return domain.Booking{}, err
	}
	booking.Version = version
	if booking.Status != domain.BookingInitiated {
		if err := r.client.ZRem(ctx, r.key("pending"), ref).Err(); err != nil {
			return domain.Booking{}, fmt.Errorf("redis zrem pending: %w", err)
		}
	}
	return booking, nil
}

// GetExpiredInitiatedBookings returns INITIATED bookings initiated strictly
// before cutoff, oldest first. The pending index can lag a crashed writer, so
// each candidate's current status is re-checked from its document.
func (r *RedisStore) GetExpiredInitiatedBookings(ctx context.Context, cutoff int64) ([]domain.Booking, error) {
	refs, err := r.client.ZRangeByScore(ctx, r.key("pending"), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore pending: %w", err)
	}
	expired := make([]domain.Booking, 0, len(refs))
	for _, ref := range refs {
		booking, err := r.GetBookingByReference(ctx, ref)
		if err == domain.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if booking.Status != domain.BookingInitiated {
			continue
		}
		expired = append(expired, booking)
	}
	return expired, nil
}
