// Command server exposes the four inbound operations from spec.md §6 over
// a thin net/http surface, grounded on the teacher's cmd/flight-service
// and cmd/booking-service main.go: Go 1.22 ServeMux, a health endpoint,
// and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"flightcore/internal/admin"
	"flightcore/internal/app"
	"flightcore/internal/apperr"
	"flightcore/internal/booking"
	"flightcore/internal/cache"
	"flightcore/internal/config"
	"flightcore/internal/domain"
	"flightcore/internal/eventbus"
	"flightcore/internal/generator"
	"flightcore/internal/journeystore"
	"flightcore/internal/logging"
	"flightcore/internal/registry"
	"flightcore/internal/reservation"
	"flightcore/internal/search"
	"flightcore/internal/store"
)

func main() {
	logger := logging.New("server")

	cfg, err := config.Load(viper.New())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	db, err := store.Open(ctx, store.Options{DSN: cfg.PostgresDSN, PoolSize: cfg.StorePoolSize}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rdb, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, PoolSize: cfg.StorePoolSize}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	reg := registry.New(db.DB, logging.Component(logger, "registry"))
	jstore := journeystore.New(db.DB, logging.Component(logger, "journeystore"))
	resv := reservation.New(rdb.Client, logging.Component(logger, "reservation"))
	se := search.New(jstore, reg, rdb, cfg.SearchCacheTTL, cfg.SortAllowed, logging.Component(logger, "search"))
	be := booking.New(db.DB, reg, jstore, resv, cfg.ReservationTTL, logging.Component(logger, "booking"))
	bus := eventbus.New(rdb.Client, cfg.BusPartitions, "server", logging.Component(logger, "eventbus"))

	if err := bus.EnsureGroups(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure event bus consumer groups")
	}

	a := app.New(reg, se, be, bus, logging.Component(logger, "app"))
	republisher := admin.New(reg, bus, logging.Component(logger, "admin"))

	mux := http.NewServeMux()
	h := &handlers{app: a, republisher: republisher, log: logger, gen: generator.New(reg, jstore, cfg.Constraints(), logging.Component(logger, "generator"))}

	mux.HandleFunc("POST /api/flights", h.createFlight)
	mux.HandleFunc("GET /api/journeys/search", h.searchJourneys)
	mux.HandleFunc("POST /api/bookings", h.createBooking)
	mux.HandleFunc("GET /api/bookings/{id}", h.getBooking)
	mux.HandleFunc("POST /api/admin/flights/{id}/republish", h.republish)
	mux.HandleFunc("POST /api/admin/flights/{id}/generate", h.generate)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"flightcore"}`))
	})

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("flightcore server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down flightcore server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("flightcore server exited")
}

type handlers struct {
	app         *app.App
	republisher *admin.Republisher
	gen         generator.Generator
	log         zerolog.Logger
}

type createFlightBody struct {
	Source     string  `json:"src"`
	Dest       string  `json:"dst"`
	Departure  string  `json:"departure"`
	Arrival    string  `json:"arrival"`
	Aircraft   string  `json:"aircraftId"`
	Price      string  `json:"price"`
	TotalSeats int     `json:"totalSeats"`
}

func (h *handlers) createFlight(w http.ResponseWriter, r *http.Request) {
	var body createFlightBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New("server.createFlight", apperr.InvalidInput, err))
		return
	}

	dep, err := time.Parse(time.RFC3339, body.Departure)
	if err != nil {
		writeError(w, apperr.New("server.createFlight", apperr.InvalidInput, fmt.Errorf("invalid departure: %w", err)))
		return
	}
	arr, err := time.Parse(time.RFC3339, body.Arrival)
	if err != nil {
		writeError(w, apperr.New("server.createFlight", apperr.InvalidInput, fmt.Errorf("invalid arrival: %w", err)))
		return
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		writeError(w, apperr.New("server.createFlight", apperr.InvalidInput, fmt.Errorf("invalid price: %w", err)))
		return
	}

	f, err := h.app.CreateFlight(r.Context(), app.CreateFlightRequest{
		Source:     body.Source,
		Dest:       body.Dest,
		Departure:  dep,
		Arrival:    arr,
		Aircraft:   body.Aircraft,
		Price:      price,
		TotalSeats: body.TotalSeats,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// In-process delivery is out of scope for the core; in this
	// deployment the generator worker consumes the published event
	// separately (see cmd/generator-worker).
	writeJSON(w, http.StatusCreated, f)
}

func (h *handlers) searchJourneys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := domain.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, apperr.New("server.searchJourneys", apperr.InvalidInput, err))
		return
	}
	passengers := 1
	if p := q.Get("passengers"); p != "" {
		fmt.Sscanf(p, "%d", &passengers)
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	res, err := h.app.SearchJourneys(r.Context(), search.Request{
		Source:     q.Get("src"),
		Dest:       q.Get("dst"),
		Date:       date,
		Passengers: passengers,
		SortBy:     q.Get("sortBy"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createBookingBody struct {
	JourneyID  string `json:"journeyId"`
	Passengers int    `json:"passengerCount"`
	PaymentRef string `json:"paymentRef"`
	UserID     string `json:"userId"`
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New("server.createBooking", apperr.InvalidInput, err))
		return
	}
	journeyID, err := uuid.Parse(body.JourneyID)
	if err != nil {
		writeError(w, apperr.New("server.createBooking", apperr.InvalidInput, err))
		return
	}

	resp, err := h.app.CreateBooking(r.Context(), booking.Request{
		JourneyID:  journeyID,
		Passengers: body.Passengers,
		PaymentRef: body.PaymentRef,
		UserID:     body.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.New("server.getBooking", apperr.InvalidInput, err))
		return
	}
	resp, err := h.app.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) republish(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.New("server.republish", apperr.InvalidInput, err))
		return
	}
	if err := h.republisher.Republish(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// generate directly invokes the Journey Generator for a flight, bypassing
// the event bus. Intended for operator backfills (e.g. after widening
// MAX_LEGS or LAYOVER bounds) where replaying every historical
// flight-created event is unnecessary.
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.New("server.generate", apperr.InvalidInput, err))
		return
	}
	n, err := h.gen.ProcessFlightCreated(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"journeysPersisted": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.InvalidInput, apperr.DuplicateFlight:
		status = http.StatusBadRequest
	case apperr.JourneyNotFound, apperr.NotFound:
		status = http.StatusNotFound
	case apperr.InsufficientSeats, apperr.SeatConflict:
		status = http.StatusConflict
	case apperr.StoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": kind.String(), "message": err.Error()})
}
