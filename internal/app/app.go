// Package app wires C1-C7 into the four inbound operations spec.md §6
// defines as the system's protocol-agnostic surface. It is the seam an
// HTTP layer (or any other external collaborator) calls through; nothing
// in this module depends on net/http.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightcore/internal/booking"
	"flightcore/internal/domain"
	"flightcore/internal/eventbus"
	"flightcore/internal/registry"
	"flightcore/internal/search"
)

// CreateFlightRequest mirrors spec.md §6's CreateFlight inputs.
type CreateFlightRequest struct {
	Source     string
	Dest       string
	Departure  time.Time
	Arrival    time.Time
	Aircraft   string
	Price      decimal.Decimal
	TotalSeats int
}

// App exposes the four inbound operations from spec.md §6.
type App struct {
	Registry registry.Registry
	Search   search.Engine
	Booking  booking.Engine
	Bus      eventbus.Bus
	Log      zerolog.Logger
}

// New assembles an App from its already-constructed components.
func New(reg registry.Registry, se search.Engine, be booking.Engine, bus eventbus.Bus, log zerolog.Logger) *App {
	return &App{Registry: reg, Search: se, Booking: be, Bus: bus, Log: log}
}

// CreateFlight persists a flight and its seat inventory, then publishes a
// flight-created event (spec.md §2's "admin path"). This is the
// commit-then-publish boundary documented in SPEC_FULL.md: publish
// failure is logged but does not roll back the already-committed flight.
func (a *App) CreateFlight(ctx context.Context, req CreateFlightRequest) (domain.Flight, error) {
	f, err := a.Registry.CreateFlight(ctx, registry.CreateFlightInput{
		Source:     req.Source,
		Dest:       req.Dest,
		Departure:  req.Departure,
		Arrival:    req.Arrival,
		Aircraft:   req.Aircraft,
		Price:      req.Price,
		TotalSeats: req.TotalSeats,
	})
	if err != nil {
		return domain.Flight{}, err
	}

	ev := eventbus.FlightCreated{
		FlightID:  f.ID,
		Source:    f.Source,
		Dest:      f.Dest,
		Departure: f.Departure,
		EmittedAt: time.Now().UTC(),
	}
	if err := a.Bus.Publish(ctx, ev); err != nil {
		a.Log.Error().Err(err).Str("flight_id", f.ID.String()).Msg("flight committed but event publish failed; journeys will not be generated until republished")
	}

	return f, nil
}

// SearchJourneys is the C4 entry point (spec.md §6).
func (a *App) SearchJourneys(ctx context.Context, req search.Request) (search.Result, error) {
	return a.Search.Search(ctx, req)
}

// CreateBooking is the C6 entry point (spec.md §6).
func (a *App) CreateBooking(ctx context.Context, req booking.Request) (domain.Response, error) {
	return a.Booking.CreateBooking(ctx, req)
}

// GetBooking is the C6 entry point (spec.md §6).
func (a *App) GetBooking(ctx context.Context, id uuid.UUID) (domain.Response, error) {
	return a.Booking.GetBooking(ctx, id)
}
