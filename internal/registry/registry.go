// Package registry implements the Flight Registry (C1): persists flights
// and per-flight seat inventory, and exposes the reads the Search Engine
// and Booking Engine need. Grounded on the teacher's FlightService, with
// its HTTP-service seat-count caching replaced by direct SQL reads — C1 in
// this module owns durable state only; C4/C5 own their own caching.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
)

// CreateFlightInput is the validated input to CreateFlight (spec.md §4.1 /
// §6 CreateFlight operation).
type CreateFlightInput struct {
	Source     string
	Dest       string
	Departure  time.Time
	Arrival    time.Time
	Aircraft   string
	Price      decimal.Decimal
	TotalSeats int
}

// Registry is the C1 contract from spec.md §4.1.
type Registry interface {
	CreateFlight(ctx context.Context, in CreateFlightInput) (domain.Flight, error)
	GetFlight(ctx context.Context, id uuid.UUID) (domain.Flight, error)
	ListFlightsByDate(ctx context.Context, date domain.Date) ([]domain.Flight, error)
	CountAvailableSeats(ctx context.Context, flightID uuid.UUID) (int, error)
	ListAvailableSeats(ctx context.Context, flightID uuid.UUID) ([]domain.Seat, error)
	ReserveSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID, bookingID uuid.UUID) error
	ReleaseSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID) error
	SeatLabels(ctx context.Context, tx *sql.Tx, seatIDs []uuid.UUID) (map[uuid.UUID]string, error)
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

type postgresRegistry struct {
	db  *sql.DB
	log zerolog.Logger
}

// New returns a Postgres-backed Registry.
func New(db *sql.DB, log zerolog.Logger) Registry {
	return &postgresRegistry{db: db, log: log}
}

func (r *postgresRegistry) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap("registry.BeginTx", apperr.StoreUnavailable, err)
	}
	return tx, nil
}

// CreateFlight validates the input per spec.md §4.1, then atomically
// persists the flight and its allocated seats.
func (r *postgresRegistry) CreateFlight(ctx context.Context, in CreateFlightInput) (domain.Flight, error) {
	const op = "registry.CreateFlight"

	if in.Source == in.Dest {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, errors.New("source and destination must differ"))
	}
	if len(in.Source) != 3 || len(in.Dest) != 3 {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, errors.New("airport codes must be 3 letters"))
	}
	if !in.Arrival.After(in.Departure) {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, errors.New("arrival must be after departure"))
	}
	if in.Price.IsNegative() {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, errors.New("price must be non-negative"))
	}
	if in.TotalSeats < domain.MinSeatsPerFlight || in.TotalSeats > domain.MaxSeatsPerFlight {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, fmt.Errorf("seat count must be between %d and %d", domain.MinSeatsPerFlight, domain.MaxSeatsPerFlight))
	}
	if !in.Departure.After(time.Now()) {
		return domain.Flight{}, apperr.New(op, apperr.InvalidInput, errors.New("departure must be in the future"))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Flight{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer tx.Rollback()

	f := domain.Flight{
		ID:        uuid.New(),
		Source:    in.Source,
		Dest:      in.Dest,
		Departure: in.Departure.UTC(),
		Arrival:   in.Arrival.UTC(),
		Aircraft:  in.Aircraft,
		Price:     in.Price,
		Status:    domain.FlightActive,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flights (id, src, dst, dep_utc, arr_utc, aircraft, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.Source, f.Dest, f.Departure, f.Arrival, f.Aircraft, f.Price, f.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Flight{}, apperr.New(op, apperr.DuplicateFlight, err)
		}
		return domain.Flight{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	labels := seatLabels(in.TotalSeats)
	for _, label := range labels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO seats (id, flight_id, label, status) VALUES ($1, $2, $3, $4)
		`, uuid.New(), f.ID, label, domain.SeatAvailable); err != nil {
			return domain.Flight{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Flight{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}

	r.log.Info().Str("flight_id", f.ID.String()).Str("src", f.Source).Str("dst", f.Dest).Int("seats", in.TotalSeats).Msg("flight created")
	return f, nil
}

func (r *postgresRegistry) GetFlight(ctx context.Context, id uuid.UUID) (domain.Flight, error) {
	const op = "registry.GetFlight"
	row := r.db.QueryRowContext(ctx, `
		SELECT id, src, dst, dep_utc, arr_utc, aircraft, price, status, created, updated
		FROM flights WHERE id = $1
	`, id)

	var f domain.Flight
	var priceStr string
	if err := row.Scan(&f.ID, &f.Source, &f.Dest, &f.Departure, &f.Arrival, &f.Aircraft, &priceStr, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Flight{}, apperr.New(op, apperr.NotFound, err)
		}
		return domain.Flight{}, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Flight{}, apperr.Wrap(op, apperr.Internal, err)
	}
	f.Price = price
	return f, nil
}

func (r *postgresRegistry) ListFlightsByDate(ctx context.Context, date domain.Date) ([]domain.Flight, error) {
	const op = "registry.ListFlightsByDate"
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, src, dst, dep_utc, arr_utc, aircraft, price, status, created, updated
		FROM flights
		WHERE dep_utc::date = $1 AND status = $2
		ORDER BY dep_utc
	`, date.String(), domain.FlightActive)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Flight
	for rows.Next() {
		var f domain.Flight
		var priceStr string
		if err := rows.Scan(&f.ID, &f.Source, &f.Dest, &f.Departure, &f.Arrival, &f.Aircraft, &priceStr, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, apperr.Wrap(op, apperr.Internal, err)
		}
		f.Price = price
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return out, nil
}

func (r *postgresRegistry) CountAvailableSeats(ctx context.Context, flightID uuid.UUID) (int, error) {
	const op = "registry.CountAvailableSeats"
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM seats WHERE flight_id = $1 AND status = $2
	`, flightID, domain.SeatAvailable).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return n, nil
}

func (r *postgresRegistry) ListAvailableSeats(ctx context.Context, flightID uuid.UUID) ([]domain.Seat, error) {
	const op = "registry.ListAvailableSeats"
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, flight_id, label, status, created, updated
		FROM seats WHERE flight_id = $1 AND status = $2
		ORDER BY label
	`, flightID, domain.SeatAvailable)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.FlightID, &s.Label, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return out, nil
}

// ReserveSeatsInStore transitions the given AVAILABLE seats to BOOKED and
// attaches bookingID, inside the caller's transaction. If any seat is not
// AVAILABLE the whole operation fails with SeatConflict; callers MUST
// translate that into a full rollback (spec.md §4.1).
func (r *postgresRegistry) ReserveSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID, bookingID uuid.UUID) error {
	const op = "registry.ReserveSeatsInStore"
	if len(seatIDs) == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE seats SET status = $1, booking_id = $2, updated = now()
		WHERE flight_id = $3 AND id = ANY($4) AND status = $5
	`, domain.SeatBooked, bookingID, flightID, uuidArray(seatIDs), domain.SeatAvailable)
	if err != nil {
		return apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	if int(n) != len(seatIDs) {
		return apperr.New(op, apperr.SeatConflict, fmt.Errorf("expected to reserve %d seats, reserved %d", len(seatIDs), n))
	}
	return nil
}

// ReleaseSeatsInStore reverts the given seats back to AVAILABLE inside the
// caller's transaction. Nothing in this module calls it: the Booking Engine
// undoes a failed ReserveSeatsInStore by rolling back its transaction, and
// hold release goes through internal/reservation, not this method.
func (r *postgresRegistry) ReleaseSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID) error {
	const op = "registry.ReleaseSeatsInStore"
	if len(seatIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE seats SET status = $1, booking_id = NULL, updated = now()
		WHERE flight_id = $2 AND id = ANY($3)
	`, domain.SeatAvailable, flightID, uuidArray(seatIDs))
	if err != nil {
		return apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return nil
}

func (r *postgresRegistry) SeatLabels(ctx context.Context, tx *sql.Tx, seatIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	const op = "registry.SeatLabels"
	if len(seatIDs) == 0 {
		return map[uuid.UUID]string{}, nil
	}

	query := `SELECT id, label FROM seats WHERE id = ANY($1)`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, uuidArray(seatIDs))
	} else {
		rows, err = r.db.QueryContext(ctx, query, uuidArray(seatIDs))
	}
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string, len(seatIDs))
	for rows.Next() {
		var id uuid.UUID
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		out[id] = label
	}
	return out, rows.Err()
}

func uuidArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
