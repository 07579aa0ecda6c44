// Package admin holds the manual recovery path for the commit-then-publish
// gap documented in SPEC_FULL.md's Open Question resolution: if a flight
// commits in the registry but its flight-created event never reaches the
// bus, the flight is durable yet invisible to the Journey Generator until
// an operator replays it through Republish.
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flightcore/internal/apperr"
	"flightcore/internal/eventbus"
	"flightcore/internal/registry"
)

// Republisher re-emits the flight-created event for a flight that is
// already committed, for operator-triggered recovery after a publish
// failure.
type Republisher struct {
	reg registry.Registry
	bus eventbus.Bus
	log zerolog.Logger
}

// New returns a Republisher.
func New(reg registry.Registry, bus eventbus.Bus, log zerolog.Logger) *Republisher {
	return &Republisher{reg: reg, bus: bus, log: log}
}

// Republish loads flightID from the registry and publishes its
// flight-created event again. It is safe to call repeatedly: the Journey
// Generator is idempotent (spec.md §4.3), so redundant deliveries persist
// no duplicate journeys.
func (r *Republisher) Republish(ctx context.Context, flightID uuid.UUID) error {
	const op = "admin.Republish"

	f, err := r.reg.GetFlight(ctx, flightID)
	if err != nil {
		return apperr.Wrap(op, apperr.KindOf(err), err)
	}

	ev := eventbus.FlightCreated{
		FlightID:  f.ID,
		Source:    f.Source,
		Dest:      f.Dest,
		Departure: f.Departure,
		EmittedAt: time.Now().UTC(),
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		return apperr.Wrap(op, apperr.BusUnavailable, err)
	}

	r.log.Info().Str("flight_id", f.ID.String()).Msg("flight-created event republished")
	return nil
}
