package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/service"
)

// HTTP translates wire requests into booking service calls and domain errors
// into the fixed response-code table below.
type HTTP struct {
	svc      *service.Service
	operator func(http.Handler) http.Handler
}

// NewHTTP constructs a handler. The operator middleware, when non-nil, guards
// the catalog and trip mutation endpoints.
func NewHTTP(svc *service.Service, operator func(http.Handler) http.Handler) *HTTP {
	return &HTTP{svc: svc, operator: operator}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Post("/v1/bookings", h.reserveSeats)
	r.Get("/v1/bookings/{ref}", h.getBooking)
	r.Post("/v1/bookings/{ref}/confirm", h.confirmBooking)
	r.Delete("/v1/bookings/{ref}", h.cancelBooking)

	r.Get("/v1/trips", h.searchTrips)
	r.Get("/v1/trips/{ref}", h.getTrip)
	r.Get("/v1/vehicles/{vin}", h.getVehicle)

	r.Group(func(r chi.Router) {
		if h.operator != nil {
			r.Use(h.operator)
		}
		r.Post("/v1/trips", h.createTrip)
		r.Post("/v1/trips/{ref}/reset", h.resetTrip)
		r.Post("/v1/vehicles", h.addVehicle)
	})
	return r
}

// Response codes for transition rejections. These mirror a fixed table API
// consumers branch on and must not be renumbered.
const (
	codeVehicleAlreadyExists     = 471
	codeSeatUnavailable          = 472
	codeBookingAlreadyCancelled  = 473
	codeBookingAlreadyCompleted  = 474
	codeBookingCannotBeCancelled = 475
	codeTripAlreadyStarted       = 476
	codeTripAlreadyCompleted     = 477
	codeTripAlreadyCancelled     = 478
)

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVehicleAlreadyExists):
		return codeVehicleAlreadyExists
	case errors.Is(err, domain.ErrSeatUnavailable):
		return codeSeatUnavailable
	case errors.Is(err, domain.ErrBookingAlreadyCancelled):
		return codeBookingAlreadyCancelled
	case errors.Is(err, domain.ErrBookingAlreadyCompleted):
		return codeBookingAlreadyCompleted
	case errors.Is(err, domain.ErrBookingCannotBeCancelled):
		return codeBookingCannotBeCancelled
	case errors.Is(err, domain.ErrTripAlreadyStarted):
		return codeTripAlreadyStarted
	case errors.Is(err, domain.ErrTripAlreadyCompleted):
		return codeTripAlreadyCompleted
	case errors.Is(err, domain.ErrTripAlreadyCancelled):
		return codeTripAlreadyCancelled
	case errors.Is(err, domain.ErrContention):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type reserveRequest struct {
	TripReference string   `json:"trip_reference"`
	Seats         []string `json:"seats"`
}

func (h *HTTP) reserveSeats(w http.ResponseWriter, r *http.Request) {
	var payload reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.TripReference == "" || len(payload.Seats) == 0 {
		http.Error(w, "trip_reference and seats are required", http.StatusBadRequest)
		return
	}
	booking, err := h.svc.ReserveSeats(r.Context(), payload.TripReference, payload.Seats)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"booking_reference": booking.BookingReference})
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTP) confirmBooking(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.ConfirmBooking(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelBooking(r.Context(), chi.URLParam(r, "ref")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) searchTrips(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fromCity, toCity, date := query.Get("from"), query.Get("to"), query.Get("date")
	if _, err := time.Parse(domain.JourneyDateLayout, date); err != nil {
		http.Error(w, "date must be MM-DD-YYYY", http.StatusBadRequest)
		return
	}
	trips, err := h.svc.SearchTrips(r.Context(), fromCity, toCity, date)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(trips) == 0 {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Trip{"trips": trips})
}

func (h *HTTP) getTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.svc.GetTrip(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

type createTripRequest struct {
	VehicleNumber string    `json:"vehicle_number"`
	FromCity      string    `json:"from_city"`
	ToCity        string    `json:"to_city"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
}

func (h *HTTP) createTrip(w http.ResponseWriter, r *http.Request) {
	var payload createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.VehicleNumber == "" || payload.FromCity == "" || payload.ToCity == "" {
		http.Error(w, "vehicle_number, from_city and to_city are required", http.StatusBadRequest)
		return
	}
	ref, err := h.svc.CreateTrip(r.Context(), service.CreateTripRequest{
		VehicleNumber: payload.VehicleNumber,
		FromCity:      payload.FromCity,
		ToCity:        payload.ToCity,
		DepartureTime: payload.DepartureTime,
		ArrivalTime:   payload.ArrivalTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"trip_reference": ref})
}

func (h *HTTP) resetTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetTrip(r.Context(), chi.URLParam(r, "ref")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addVehicleRequest struct {
	Tsp   string `json:"tsp"`
	Vin   string `json:"vin"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  string `json:"year"`
	Seats []struct {
		Number   string `json:"number"`
		Position string `json:"position"`
	} `json:"seats"`
}

func (h *HTTP) addVehicle(w http.ResponseWriter, r *http.Request) {
	var payload addVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Vin == "" || len(payload.Seats) == 0 {
		http.Error(w, "vin and seats are required", http.StatusBadRequest)
		return
	}
	seats := make([]domain.Seat, 0, len(payload.Seats))
	for _, seat := range payload.Seats {
		position, err := domain.ParseSeatPosition(seat.Position)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seats = append(seats, domain.Seat{Number: seat.Number, Position: position})
	}
	vehicle := domain.Vehicle{
		Tsp:     payload.Tsp,
		Vin:     payload.Vin,
		Details: domain.VehicleDetails{Make: payload.Make, Model: payload.Model, Year: payload.Year},
		Seats:   seats,
	}
	if err := h.svc.AddVehicle(r.Context(), vehicle); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *HTTP) getVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.svc.GetVehicle(r.Context(), chi.URLParam(r, "vin"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}
