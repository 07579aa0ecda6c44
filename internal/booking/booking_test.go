package booking

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
	"flightcore/internal/journeystore"
	"flightcore/internal/registry"
	"flightcore/internal/reservation"
)

// fakeRegistry is an in-memory registry.Registry double covering exactly
// what the Booking Engine calls: ListAvailableSeats, ReserveSeatsInStore,
// SeatLabels, and BeginTx (which opens a real transaction against the
// sqlmock-backed *sql.DB so CreateBooking's own tx.ExecContext/Commit/
// Rollback calls exercise real database/sql semantics).
type fakeRegistry struct {
	registry.Registry
	db    *sql.DB
	mu    sync.Mutex
	seats map[uuid.UUID]*domain.Seat // seatID -> seat, across one or more flights
}

func (r *fakeRegistry) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *fakeRegistry) ListAvailableSeats(ctx context.Context, flightID uuid.UUID) ([]domain.Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Seat
	for _, s := range r.seats {
		if s.Status == domain.SeatAvailable && s.FlightID == flightID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeRegistry) ReserveSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID, bookingID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range seatIDs {
		s, ok := r.seats[id]
		if !ok || s.Status != domain.SeatAvailable {
			return apperr.New("fakeRegistry.ReserveSeatsInStore", apperr.SeatConflict, nil)
		}
	}
	for _, id := range seatIDs {
		r.seats[id].Status = domain.SeatBooked
		r.seats[id].BookingID = &bookingID
	}
	return nil
}

func (r *fakeRegistry) SeatLabels(ctx context.Context, tx *sql.Tx, seatIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]string, len(seatIDs))
	for _, id := range seatIDs {
		if s, ok := r.seats[id]; ok {
			out[id] = s.Label
		}
	}
	return out, nil
}

// fakeStore is a journeystore.Store double returning one fixed journey;
// only GetJourney is ever called by the Booking Engine.
type fakeStore struct {
	journeystore.Store
	journey domain.Journey
}

func (s *fakeStore) GetJourney(ctx context.Context, id uuid.UUID) (domain.Journey, error) {
	if id != s.journey.ID {
		return domain.Journey{}, apperr.New("fakeStore.GetJourney", apperr.JourneyNotFound, sql.ErrNoRows)
	}
	return s.journey, nil
}

func newTestJourney(flightID uuid.UUID) domain.Journey {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	leg := domain.Leg{Order: 1, FlightID: flightID, Source: "DEL", Dest: "BOM", Dep: dep, Arr: dep.Add(2 * time.Hour), Price: decimal.NewFromInt(3000)}
	return domain.Journey{ID: uuid.New(), Legs: []domain.Leg{leg}, Status: domain.JourneyActive}
}

func newTestReservation(t *testing.T) reservation.Reservation {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return reservation.New(rdb, zerolog.Nop())
}

func seatsForFlight(flightID uuid.UUID, n int) map[uuid.UUID]*domain.Seat {
	out := make(map[uuid.UUID]*domain.Seat, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		out[id] = &domain.Seat{ID: id, FlightID: flightID, Label: "1A", Status: domain.SeatAvailable}
	}
	return out
}

func mergeSeats(maps ...map[uuid.UUID]*domain.Seat) map[uuid.UUID]*domain.Seat {
	out := make(map[uuid.UUID]*domain.Seat)
	for _, m := range maps {
		for id, s := range m {
			out[id] = s
		}
	}
	return out
}

// newTestJourneyWithLegs builds a journey over two distinct flights, used
// to exercise cross-leg hold acquisition and rollback.
func newTestJourneyWithLegs(flight1, flight2 uuid.UUID) domain.Journey {
	dep1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	leg1 := domain.Leg{Order: 1, FlightID: flight1, Source: "DEL", Dest: "BOM", Dep: dep1, Arr: dep1.Add(2 * time.Hour), Price: decimal.NewFromInt(3000)}
	dep2 := leg1.Arr.Add(time.Hour)
	leg2 := domain.Leg{Order: 2, FlightID: flight2, Source: "BOM", Dest: "CCU", Dep: dep2, Arr: dep2.Add(2 * time.Hour), Price: decimal.NewFromInt(2500)}
	return domain.Journey{ID: uuid.New(), Legs: []domain.Leg{leg1, leg2}, Status: domain.JourneyActive}
}

// conflictInjectingReservation wraps a real reservation.Reservation and, on
// a chosen call to AcquireHold, steals one of the passed-in seats with a
// direct hold first — simulating a concurrent booking that wins the race
// for that leg between this engine's Step 2 availability check and its
// Step 3 acquire. Used to drive CreateBooking into a later-leg conflict so
// the earlier legs' releaseAll() rollback can be observed.
type conflictInjectingReservation struct {
	reservation.Reservation
	calls      int
	conflictAt int // 1-indexed call number to inject the steal on
}

func (r *conflictInjectingReservation) AcquireHold(ctx context.Context, flightID uuid.UUID, seatIDs []uuid.UUID, ttl time.Duration) error {
	r.calls++
	if r.calls == r.conflictAt && len(seatIDs) > 0 {
		if err := r.Reservation.AcquireHold(ctx, flightID, seatIDs[:1], time.Minute); err != nil {
			return err
		}
	}
	return r.Reservation.AcquireHold(ctx, flightID, seatIDs, ttl)
}

func TestCreateBooking_RejectsZeroPassengers(t *testing.T) {
	eng := &engine{log: zerolog.Nop()}
	_, err := eng.CreateBooking(context.Background(), Request{Passengers: 0})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCreateBooking_JourneyNotActive(t *testing.T) {
	flightID := uuid.New()
	j := newTestJourney(flightID)
	j.Status = domain.JourneyDisabled
	store := &fakeStore{journey: j}

	eng := &engine{store: store, log: zerolog.Nop()}
	_, err := eng.CreateBooking(context.Background(), Request{JourneyID: j.ID, Passengers: 1})
	assert.True(t, apperr.Is(err, apperr.JourneyNotFound))
}

func TestCreateBooking_InsufficientSeats(t *testing.T) {
	flightID := uuid.New()
	j := newTestJourney(flightID)
	store := &fakeStore{journey: j}
	reg := &fakeRegistry{seats: seatsForFlight(flightID, 1)}
	resv := newTestReservation(t)

	eng := &engine{store: store, reg: reg, resv: resv, log: zerolog.Nop()}
	_, err := eng.CreateBooking(context.Background(), Request{JourneyID: j.ID, Passengers: 2})
	assert.True(t, apperr.Is(err, apperr.InsufficientSeats))
}

func TestCreateBooking_Success(t *testing.T) {
	flightID := uuid.New()
	j := newTestJourney(flightID)
	store := &fakeStore{journey: j}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := &fakeRegistry{db: db, seats: seatsForFlight(flightID, 2)}
	resv := newTestReservation(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	eng := &engine{db: db, reg: reg, store: store, resv: resv, ttl: time.Minute, log: zerolog.Nop()}
	resp, err := eng.CreateBooking(context.Background(), Request{JourneyID: j.ID, Passengers: 2, UserID: "user-1", PaymentRef: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, resp.Booking.Status)
	assert.Len(t, resp.SeatAssignments, 1)
	assert.Len(t, resp.SeatAssignments[0].SeatLabels, 2)
	assert.True(t, resp.TotalPrice.Equal(decimal.NewFromInt(3000)))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCreateBooking_ConcurrentRequestsForLastSeat grounds the S5/S6
// concurrent-booking scenarios on the goroutine+WaitGroup load pattern
// used by the teacher's stress-test harness: two requests race for the
// single remaining seat on a flight, and exactly one must succeed.
func TestCreateBooking_ConcurrentRequestsForLastSeat(t *testing.T) {
	flightID := uuid.New()
	j := newTestJourney(flightID)
	store := &fakeStore{journey: j}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := &fakeRegistry{db: db, seats: seatsForFlight(flightID, 1)}
	resv := newTestReservation(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	eng := &engine{db: db, reg: reg, store: store, resv: resv, ttl: time.Minute, log: zerolog.Nop()}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := eng.CreateBooking(context.Background(), Request{JourneyID: j.ID, Passengers: 1, UserID: "racer"})
			results[idx] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case apperr.Is(err, apperr.SeatConflict) || apperr.Is(err, apperr.InsufficientSeats):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent request must win the last seat")
	assert.Equal(t, 1, conflicts)
}

// TestCreateBooking_LaterLegConflictReleasesEarlierHolds drives a two-leg
// journey (spec.md §5's S6 scenario) into a conflict on the second leg's
// AcquireHold call, after the first leg's hold has already been taken, and
// asserts releaseAll() frees every leg acquired so far — not just the one
// that failed.
func TestCreateBooking_LaterLegConflictReleasesEarlierHolds(t *testing.T) {
	flight1, flight2 := uuid.New(), uuid.New()
	j := newTestJourneyWithLegs(flight1, flight2)
	store := &fakeStore{journey: j}

	leg1Seats := seatsForFlight(flight1, 3)
	leg2Seats := seatsForFlight(flight2, 2)
	reg := &fakeRegistry{seats: mergeSeats(leg1Seats, leg2Seats)}

	underlying := newTestReservation(t)
	resv := &conflictInjectingReservation{Reservation: underlying, conflictAt: 2}

	eng := &engine{reg: reg, store: store, resv: resv, ttl: time.Minute, log: zerolog.Nop()}
	_, err := eng.CreateBooking(context.Background(), Request{JourneyID: j.ID, Passengers: 2, UserID: "user-1"})
	assert.True(t, apperr.Is(err, apperr.SeatConflict))

	var leg1IDs []uuid.UUID
	for id := range leg1Seats {
		leg1IDs = append(leg1IDs, id)
	}
	unheld := resv.FilterByActiveHolds(context.Background(), flight1, leg1IDs)
	assert.ElementsMatch(t, leg1IDs, unheld, "leg 1's hold must be released after the leg 2 conflict")
}
