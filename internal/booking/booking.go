// Package booking implements the Booking Engine (C6): orchestrates seat
// holds across every leg of a journey, persists the booking atomically,
// and enforces the all-or-nothing and no-double-booking invariants
// (spec.md §4.6). Grounded on the teacher's FlightService.CreateBooking
// transaction shape, generalized from a single-flight decrement to a
// multi-leg hold-then-transact protocol and from HTTP calls between
// services to direct calls across C1 (registry), C2 (journeystore), and
// C5 (reservation) in one process.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
	"flightcore/internal/journeystore"
	"flightcore/internal/registry"
	"flightcore/internal/reservation"
)

// Request is the input to CreateBooking (spec.md §6).
type Request struct {
	JourneyID  uuid.UUID
	Passengers int
	PaymentRef string
	UserID     string
}

// Engine is the C6 contract from spec.md §4.6.
type Engine interface {
	CreateBooking(ctx context.Context, req Request) (domain.Response, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Response, error)
}

type engine struct {
	db    *sql.DB
	reg   registry.Registry
	store journeystore.Store
	resv  reservation.Reservation
	ttl   time.Duration
	log   zerolog.Logger
}

// New returns a booking Engine. ttl is the per-hold RESERVATION_TTL
// (spec.md §3).
func New(db *sql.DB, reg registry.Registry, store journeystore.Store, resv reservation.Reservation, ttl time.Duration, log zerolog.Logger) Engine {
	return &engine{db: db, reg: reg, store: store, resv: resv, ttl: ttl, log: log}
}

// legHold is the result of acquiring a hold on one leg: the chosen seat
// ids, used both to populate ReserveSeatsInStore and to release the hold
// on any later failure.
type legHold struct {
	flightID uuid.UUID
	seatIDs  []uuid.UUID
}

func (e *engine) CreateBooking(ctx context.Context, req Request) (domain.Response, error) {
	const op = "booking.CreateBooking"

	if req.Passengers < 1 {
		return domain.Response{}, apperr.New(op, apperr.InvalidInput, errors.New("passenger count must be >= 1"))
	}

	j, err := e.store.GetJourney(ctx, req.JourneyID)
	if err != nil {
		if apperr.Is(err, apperr.JourneyNotFound) || apperr.Is(err, apperr.NotFound) {
			return domain.Response{}, apperr.New(op, apperr.JourneyNotFound, err)
		}
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	if j.Status != domain.JourneyActive {
		return domain.Response{}, apperr.New(op, apperr.JourneyNotFound, fmt.Errorf("journey %s is not active", j.ID))
	}

	// Step 2: for every leg, compute the candidate seats not currently
	// held, without acquiring anything yet. Fail fast if any leg cannot
	// possibly satisfy the request.
	candidates := make([][]uuid.UUID, len(j.Legs))
	for i, leg := range j.Legs {
		seats, err := e.reg.ListAvailableSeats(ctx, leg.FlightID)
		if err != nil {
			return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		ids := make([]uuid.UUID, len(seats))
		for k, s := range seats {
			ids[k] = s.ID
		}
		free := e.resv.FilterByActiveHolds(ctx, leg.FlightID, ids)
		if len(free) < req.Passengers {
			return domain.Response{}, apperr.New(op, apperr.InsufficientSeats, fmt.Errorf("leg %s has %d free seats, need %d", leg.FlightID, len(free), req.Passengers))
		}
		candidates[i] = free
	}

	// Step 3: acquire holds leg by leg, in leg order (spec.md §5); release
	// everything acquired so far on the first conflict.
	var holds []legHold
	releaseAll := func() {
		for _, h := range holds {
			if err := e.resv.ReleaseHold(ctx, h.flightID, h.seatIDs); err != nil {
				e.log.Warn().Err(err).Str("flight_id", h.flightID.String()).Msg("failed to release hold during rollback")
			}
		}
	}

	for i, leg := range j.Legs {
		chosen := candidates[i][:req.Passengers]
		if err := e.resv.AcquireHold(ctx, leg.FlightID, chosen, e.ttl); err != nil {
			releaseAll()
			return domain.Response{}, apperr.Wrap(op, apperr.SeatConflict, err)
		}
		holds = append(holds, legHold{flightID: leg.FlightID, seatIDs: chosen})
	}

	// Step 4: one transaction — insert the booking, reserve every leg's
	// held seats in the store. Any conflict rolls back the whole thing.
	bookingID := uuid.New()
	now := time.Now().UTC()

	tx, err := e.reg.BeginTx(ctx)
	if err != nil {
		releaseAll()
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, journey_id, pax_count, status, payment_ref, booking_time, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7)
	`, bookingID, req.UserID, j.ID, req.Passengers, domain.BookingConfirmed, req.PaymentRef, now); err != nil {
		releaseAll()
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	for _, h := range holds {
		if err := e.reg.ReserveSeatsInStore(ctx, tx, h.flightID, h.seatIDs, bookingID); err != nil {
			releaseAll()
			return domain.Response{}, apperr.Wrap(op, apperr.SeatConflict, err)
		}
	}

	if err := tx.Commit(); err != nil {
		releaseAll()
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	committed = true

	// Step 5: the store is now authoritative; release the now-redundant
	// holds (spec.md §4.6's crash-safety note covers the case where the
	// process dies before this runs — the holds simply expire).
	releaseAll()

	assignments := make([]domain.SeatAssignment, 0, len(holds))
	for _, h := range holds {
		labels, err := e.reg.SeatLabels(ctx, nil, h.seatIDs)
		if err != nil {
			return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		ls := make([]string, 0, len(h.seatIDs))
		for _, id := range h.seatIDs {
			if l, ok := labels[id]; ok {
				ls = append(ls, l)
			}
		}
		assignments = append(assignments, domain.SeatAssignment{FlightID: h.flightID, SeatLabels: ls})
	}

	b := domain.Booking{
		ID:         bookingID,
		UserID:     req.UserID,
		JourneyID:  j.ID,
		Passengers: req.Passengers,
		Status:     domain.BookingConfirmed,
		PaymentRef: req.PaymentRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	e.log.Info().Str("booking_id", bookingID.String()).Str("journey_id", j.ID.String()).Int("passengers", req.Passengers).Msg("booking confirmed")

	return domain.Response{Booking: b, Journey: j, SeatAssignments: assignments, TotalPrice: j.TotalPrice()}, nil
}

// GetBooking returns the projection joining booking, journey, legs, and
// seat labels (spec.md §4.6).
func (e *engine) GetBooking(ctx context.Context, id uuid.UUID) (domain.Response, error) {
	const op = "booking.GetBooking"

	row := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, journey_id, pax_count, status, payment_ref, booking_time, created, updated
		FROM bookings WHERE id = $1
	`, id)

	var b domain.Booking
	var created time.Time
	if err := row.Scan(&b.ID, &b.UserID, &b.JourneyID, &b.Passengers, &b.Status, &b.PaymentRef, &b.CreatedAt, &created, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Response{}, apperr.New(op, apperr.NotFound, err)
		}
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	j, err := e.store.GetJourney(ctx, b.JourneyID)
	if err != nil {
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT flight_id, label FROM seats WHERE booking_id = $1 ORDER BY flight_id, label
	`, id)
	if err != nil {
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	byFlight := make(map[uuid.UUID][]string)
	var order []uuid.UUID
	for rows.Next() {
		var flightID uuid.UUID
		var label string
		if err := rows.Scan(&flightID, &label); err != nil {
			return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		if _, ok := byFlight[flightID]; !ok {
			order = append(order, flightID)
		}
		byFlight[flightID] = append(byFlight[flightID], label)
	}
	if err := rows.Err(); err != nil {
		return domain.Response{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	assignments := make([]domain.SeatAssignment, 0, len(order))
	for _, fid := range order {
		assignments = append(assignments, domain.SeatAssignment{FlightID: fid, SeatLabels: byFlight[fid]})
	}

	total := decimal.Zero
	if len(j.Legs) > 0 {
		total = j.TotalPrice()
	}

	return domain.Response{Booking: b, Journey: j, SeatAssignments: assignments, TotalPrice: total}, nil
}
