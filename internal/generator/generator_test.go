package generator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcore/internal/apperr"
	"flightcore/internal/domain"
	"flightcore/internal/registry"
)

// fakeRegistry is an in-memory registry.Registry double — the generator
// only ever calls GetFlight and ListFlightsByDate, so those are the only
// methods given real behavior.
type fakeRegistry struct {
	flights map[uuid.UUID]domain.Flight
}

func newFakeRegistry(flights ...domain.Flight) *fakeRegistry {
	m := make(map[uuid.UUID]domain.Flight, len(flights))
	for _, f := range flights {
		m[f.ID] = f
	}
	return &fakeRegistry{flights: m}
}

func (r *fakeRegistry) CreateFlight(ctx context.Context, in registry.CreateFlightInput) (domain.Flight, error) {
	panic("not used by generator")
}

func (r *fakeRegistry) GetFlight(ctx context.Context, id uuid.UUID) (domain.Flight, error) {
	f, ok := r.flights[id]
	if !ok {
		return domain.Flight{}, apperr.New("fakeRegistry.GetFlight", apperr.NotFound, sql.ErrNoRows)
	}
	return f, nil
}

func (r *fakeRegistry) ListFlightsByDate(ctx context.Context, date domain.Date) ([]domain.Flight, error) {
	var out []domain.Flight
	for _, f := range r.flights {
		if domain.DateOfUTC(f.Departure).Equal(date) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeRegistry) CountAvailableSeats(ctx context.Context, flightID uuid.UUID) (int, error) {
	panic("not used by generator")
}
func (r *fakeRegistry) ListAvailableSeats(ctx context.Context, flightID uuid.UUID) ([]domain.Seat, error) {
	panic("not used by generator")
}
func (r *fakeRegistry) ReserveSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID, bookingID uuid.UUID) error {
	panic("not used by generator")
}
func (r *fakeRegistry) ReleaseSeatsInStore(ctx context.Context, tx *sql.Tx, flightID uuid.UUID, seatIDs []uuid.UUID) error {
	panic("not used by generator")
}
func (r *fakeRegistry) SeatLabels(ctx context.Context, tx *sql.Tx, seatIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	panic("not used by generator")
}
func (r *fakeRegistry) BeginTx(ctx context.Context) (*sql.Tx, error) {
	panic("not used by generator")
}

// fakeStore is an in-memory journeystore.Store double.
type fakeStore struct {
	byHash map[string]domain.Journey
	saved  []domain.Journey
	ending map[string][]domain.Journey
}

func newFakeStore() *fakeStore {
	return &fakeStore{byHash: map[string]domain.Journey{}, ending: map[string][]domain.Journey{}}
}

func (s *fakeStore) SaveJourney(ctx context.Context, j domain.Journey) (domain.Journey, bool, error) {
	key := domain.CanonicalKey(j.LegIDSequence())
	if existing, ok := s.byHash[key]; ok {
		return existing, true, nil
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	s.byHash[key] = j
	s.saved = append(s.saved, j)
	return j, false, nil
}

func (s *fakeStore) GetJourney(ctx context.Context, id uuid.UUID) (domain.Journey, error) {
	panic("not used by generator")
}

func (s *fakeStore) ListJourneysByRouteAndDate(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error) {
	panic("not used by generator")
}

func (s *fakeStore) ListJourneysEndingAt(ctx context.Context, airport string) ([]domain.Journey, error) {
	return s.ending[airport], nil
}

func flight(src, dst string, dep time.Time, dur time.Duration) domain.Flight {
	return domain.Flight{
		ID: uuid.New(), Source: src, Dest: dst,
		Departure: dep, Arrival: dep.Add(dur),
		Price: decimal.NewFromInt(1000), Status: domain.FlightActive,
	}
}

func testConstraints() domain.Constraints {
	return domain.Constraints{LayoverMin: 30 * time.Minute, LayoverMax: 4 * time.Hour, MaxDuration: 24 * time.Hour, MaxLegs: 3}
}

func TestProcessFlightCreated_Direct(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f := flight("DEL", "BOM", dep, 2*time.Hour)

	reg := newFakeRegistry(f)
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	n, err := gen.ProcessFlightCreated(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.saved, 1)
	assert.Equal(t, []domain.Leg{legOf(f)}, store.saved[0].Legs)
}

func TestProcessFlightCreated_ForwardExtension(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f1 := flight("DEL", "BOM", dep, 2*time.Hour)
	f2 := flight("BOM", "CCU", f1.Arrival.Add(time.Hour), 2*time.Hour)

	reg := newFakeRegistry(f1, f2)
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	n, err := gen.ProcessFlightCreated(context.Background(), f1.ID)
	require.NoError(t, err)
	// Direct DEL->BOM plus the DEL->BOM->CCU combination.
	assert.Equal(t, 2, n)

	var sawCombined bool
	for _, j := range store.saved {
		if len(j.Legs) == 2 {
			sawCombined = true
			assert.Equal(t, "DEL", j.Source())
			assert.Equal(t, "CCU", j.Dest())
		}
	}
	assert.True(t, sawCombined, "expected the two-leg combination to be persisted")
}

func TestProcessFlightCreated_InvalidLayoverRejected(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f1 := flight("DEL", "BOM", dep, 2*time.Hour)
	// Only 5 minutes of layover — below LayoverMin.
	f2 := flight("BOM", "CCU", f1.Arrival.Add(5*time.Minute), 2*time.Hour)

	reg := newFakeRegistry(f1, f2)
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	n, err := gen.ProcessFlightCreated(context.Background(), f1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // only the direct leg, the combination is invalid
	for _, j := range store.saved {
		assert.Len(t, j.Legs, 1)
	}
}

func TestProcessFlightCreated_UnknownFlightIsPermanentFailure(t *testing.T) {
	reg := newFakeRegistry()
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	_, err := gen.ProcessFlightCreated(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestProcessFlightCreated_InactiveFlightIsNoop(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f := flight("DEL", "BOM", dep, 2*time.Hour)
	f.Status = domain.FlightCancelled

	reg := newFakeRegistry(f)
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	n, err := gen.ProcessFlightCreated(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, store.saved)
}

func TestProcessFlightCreated_IdempotentOnRedelivery(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f := flight("DEL", "BOM", dep, 2*time.Hour)

	reg := newFakeRegistry(f)
	store := newFakeStore()
	gen := New(reg, store, testConstraints(), zerolog.Nop())

	n1, err := gen.ProcessFlightCreated(context.Background(), f.ID)
	require.NoError(t, err)
	n2, err := gen.ProcessFlightCreated(context.Background(), f.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, n1)
	assert.Equal(t, 0, n2) // second delivery finds only duplicates
	assert.Len(t, store.saved, 1)
}

func TestProcessFlightCreated_MiddleBridging(t *testing.T) {
	dep := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f0 := flight("DEL", "BOM", dep, time.Hour)
	existing := domain.Journey{ID: uuid.New(), Legs: []domain.Leg{legOf(f0)}, Status: domain.JourneyActive}

	f1 := flight("BOM", "CCU", f0.Arrival.Add(time.Hour), time.Hour)

	reg := newFakeRegistry(f0, f1)
	store := newFakeStore()
	store.ending["BOM"] = []domain.Journey{existing}

	gen := New(reg, store, testConstraints(), zerolog.Nop())

	_, err := gen.ProcessFlightCreated(context.Background(), f1.ID)
	require.NoError(t, err)

	var sawBridged bool
	for _, j := range store.saved {
		if len(j.Legs) == 2 && j.Source() == "DEL" && j.Dest() == "CCU" {
			sawBridged = true
		}
	}
	assert.True(t, sawBridged, "expected J+F bridging to produce DEL->CCU")
}
