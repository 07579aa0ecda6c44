// Package generator implements the Journey Generator (C3): on a
// flight-created event, bounded-BFS-expands the journey graph around the
// new flight and persists every newly valid journey (spec.md §4.3).
// Grounded on the teacher's FlightService combination logic, generalized
// from the source's two-leg-only, storage-constraint-reliant scheme
// (spec.md §9: "the source's reliance on a DB check constraint masked a
// bug") to an explicit N-leg frontier search that validates every
// candidate against domain.ValidateJourney before it is ever written.
package generator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
	"flightcore/internal/journeystore"
	"flightcore/internal/registry"
)

// Generator is the C3 contract from spec.md §4.3.
type Generator interface {
	// ProcessFlightCreated expands and persists every new journey implied
	// by flightID. Returns an apperr with Kind StoreUnavailable/Internal
	// for transient failures the caller must not acknowledge, or Kind
	// NotFound/InvalidInput for permanent failures the caller should log
	// and acknowledge without retry.
	ProcessFlightCreated(ctx context.Context, flightID uuid.UUID) (persisted int, err error)
}

type generator struct {
	reg   registry.Registry
	store journeystore.Store
	cons  domain.Constraints
	log   zerolog.Logger
}

// New returns a Generator backed by reg and store.
func New(reg registry.Registry, store journeystore.Store, cons domain.Constraints, log zerolog.Logger) Generator {
	return &generator{reg: reg, store: store, cons: cons, log: log}
}

// path is a BFS frontier node: an ordered, partially-built leg sequence
// plus the set of flight ids already used, so no flight repeats (spec.md
// §3's no-cycles invariant) and so expansion can check membership in O(1).
type path struct {
	legs    []domain.Leg
	flights map[uuid.UUID]bool
}

func newPath(l domain.Leg) path {
	return path{legs: []domain.Leg{l}, flights: map[uuid.UUID]bool{l.FlightID: true}}
}

func (p path) clone() path {
	legs := make([]domain.Leg, len(p.legs))
	copy(legs, p.legs)
	flights := make(map[uuid.UUID]bool, len(p.flights))
	for k := range p.flights {
		flights[k] = true
	}
	return path{legs: legs, flights: flights}
}

func (p path) appended(l domain.Leg) path {
	n := p.clone()
	for i := range n.legs {
		n.legs[i].Order = i + 1
	}
	l.Order = len(n.legs) + 1
	n.legs = append(n.legs, l)
	n.flights[l.FlightID] = true
	return n
}

func (p path) prepended(l domain.Leg) path {
	n := p.clone()
	l.Order = 1
	n.legs = append([]domain.Leg{l}, n.legs...)
	for i := range n.legs {
		n.legs[i].Order = i + 1
	}
	n.flights[l.FlightID] = true
	return n
}

func legOf(f domain.Flight) domain.Leg {
	return domain.Leg{Order: 1, FlightID: f.ID, Source: f.Source, Dest: f.Dest, Dep: f.Departure, Arr: f.Arrival, Price: f.Price}
}

func (g *generator) ProcessFlightCreated(ctx context.Context, flightID uuid.UUID) (int, error) {
	const op = "generator.ProcessFlightCreated"

	f, err := g.reg.GetFlight(ctx, flightID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			g.log.Warn().Str("flight_id", flightID.String()).Msg("flight-created event for unknown flight, dropping")
			return 0, apperr.New(op, apperr.NotFound, fmt.Errorf("flight %s not found: %w", flightID, err))
		}
		return 0, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	if f.Status != domain.FlightActive {
		g.log.Warn().Str("flight_id", flightID.String()).Msg("flight-created event for non-active flight, dropping")
		return 0, nil
	}

	date := domain.DateOfUTC(f.Departure)
	sameDay, err := g.reg.ListFlightsByDate(ctx, date)
	if err != nil {
		return 0, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	candidates := make([]domain.Flight, 0, len(sameDay))
	for _, c := range sameDay {
		if c.ID == f.ID {
			continue
		}
		candidates = append(candidates, c)
	}

	seen := make(map[string]bool)
	var toSave []domain.Journey

	emit := func(p path) {
		if err := domain.ValidateJourney(p.legs, g.cons); err != nil {
			return
		}
		key := domain.CanonicalKey(journeyFlightIDs(p.legs))
		if seen[key] {
			return
		}
		seen[key] = true
		toSave = append(toSave, domain.Journey{Legs: p.legs, Status: domain.JourneyActive})
	}

	// Pattern 1: Direct.
	start := newPath(legOf(f))
	emit(start)

	// Patterns 2+3: forward/backward BFS frontier over same-day flights.
	// A node reached by both a backward prepend and a forward append ends
	// up with F positioned mid-sequence, which is how three-leg paths with
	// F in the middle are produced without a distinct code path.
	frontier := []path{start}
	for len(frontier) > 0 {
		p := frontier[0]
		frontier = frontier[1:]

		if len(p.legs) >= g.cons.MaxLegs {
			continue
		}

		last := p.legs[len(p.legs)-1]
		first := p.legs[0]

		for _, c := range candidates {
			if p.flights[c.ID] {
				continue
			}

			// Forward: c departs from last.Dest within the layover window.
			if c.Source == last.Dest {
				layover := c.Departure.Sub(last.Arr)
				if layover >= g.cons.LayoverMin && layover <= g.cons.LayoverMax {
					np := p.appended(legOf(c))
					if np.legs[len(np.legs)-1].Arr.Sub(np.legs[0].Dep) <= g.cons.MaxDuration {
						emit(np)
						frontier = append(frontier, np)
					}
				}
			}

			// Backward: c arrives at first.Source within the layover window.
			if c.Dest == first.Source {
				layover := first.Dep.Sub(c.Arrival)
				if layover >= g.cons.LayoverMin && layover <= g.cons.LayoverMax {
					np := p.prepended(legOf(c))
					if np.legs[len(np.legs)-1].Arr.Sub(np.legs[0].Dep) <= g.cons.MaxDuration {
						emit(np)
						frontier = append(frontier, np)
					}
				}
			}
		}
	}

	// Pattern 4: middle bridging over already-persisted journeys, which
	// may incorporate flights outside the same-day candidate set (spec.md
	// §4.3 pattern 4).
	if err := g.bridgeMiddle(ctx, f, emit); err != nil {
		return 0, err
	}

	savedCount := 0
	for _, j := range toSave {
		_, duplicate, err := g.store.SaveJourney(ctx, j)
		if err != nil {
			return savedCount, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		if !duplicate {
			savedCount++
		}
	}

	g.log.Info().Str("flight_id", f.ID.String()).Int("candidates", len(toSave)).Int("persisted", savedCount).Msg("journey generation complete")
	return savedCount, nil
}

// bridgeMiddle assembles J+F and J+F+G for every persisted journey J ending
// at F.Source and every same-day flight G leaving F.Dest, per spec.md §4.3
// pattern 4.
func (g *generator) bridgeMiddle(ctx context.Context, f domain.Flight, emit func(path)) error {
	const op = "generator.bridgeMiddle"

	ending, err := g.store.ListJourneysEndingAt(ctx, f.Source)
	if err != nil {
		return apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	leaving, err := g.reg.ListFlightsByDate(ctx, domain.DateOfUTC(f.Departure))
	if err != nil {
		return apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	fl := legOf(f)
	for _, j := range ending {
		if len(j.Legs)+1 > g.cons.MaxLegs {
			continue
		}
		last := j.Legs[len(j.Legs)-1]
		layover := fl.Dep.Sub(last.Arr)
		if layover < g.cons.LayoverMin || layover > g.cons.LayoverMax {
			continue
		}
		if containsFlight(j, f.ID) {
			continue
		}

		combined := appendLegs(j.Legs, fl)
		emit(path{legs: combined, flights: flightSet(combined)})

		if len(combined) >= g.cons.MaxLegs {
			continue
		}
		for _, gFlight := range leaving {
			if gFlight.ID == f.ID || containsFlight(j, gFlight.ID) || gFlight.Source != f.Dest {
				continue
			}
			layover2 := gFlight.Departure.Sub(fl.Arr)
			if layover2 < g.cons.LayoverMin || layover2 > g.cons.LayoverMax {
				continue
			}
			triple := appendLegs(combined, legOf(gFlight))
			if triple[len(triple)-1].Arr.Sub(triple[0].Dep) > g.cons.MaxDuration {
				continue
			}
			emit(path{legs: triple, flights: flightSet(triple)})
		}
	}
	return nil
}

func appendLegs(legs []domain.Leg, l domain.Leg) []domain.Leg {
	out := make([]domain.Leg, len(legs)+1)
	copy(out, legs)
	l.Order = len(out)
	out[len(out)-1] = l
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

func flightSet(legs []domain.Leg) map[uuid.UUID]bool {
	m := make(map[uuid.UUID]bool, len(legs))
	for _, l := range legs {
		m[l.FlightID] = true
	}
	return m
}

func containsFlight(j domain.Journey, id uuid.UUID) bool {
	for _, l := range j.Legs {
		if l.FlightID == id {
			return true
		}
	}
	return false
}

func journeyFlightIDs(legs []domain.Leg) []uuid.UUID {
	ids := make([]uuid.UUID, len(legs))
	for i, l := range legs {
		ids[i] = l.FlightID
	}
	return ids
}
