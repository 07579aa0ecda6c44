package search

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightcore/internal/cache"
	"flightcore/internal/domain"
	"flightcore/internal/registry"
)

type fakeJourneyReader struct {
	calls int
	byKey map[string][]domain.Journey
}

func (f *fakeJourneyReader) ListJourneysByRouteAndDate(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error) {
	f.calls++
	return f.byKey[cache.SearchCacheKey(src, dst, date.String())], nil
}

type fakeSeatCounts struct {
	registry.Registry
	counts map[uuid.UUID]int
}

func (f *fakeSeatCounts) CountAvailableSeats(ctx context.Context, flightID uuid.UUID) (int, error) {
	return f.counts[flightID], nil
}
func (f *fakeSeatCounts) GetFlight(ctx context.Context, id uuid.UUID) (domain.Flight, error) {
	return domain.Flight{}, sql.ErrNoRows
}

func newCacheClient(t *testing.T) *cache.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.New(context.Background(), cache.Options{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func testJourney(src, dst string, dep time.Time, price int64) domain.Journey {
	l := domain.Leg{Order: 1, FlightID: uuid.New(), Source: src, Dest: dst, Dep: dep, Arr: dep.Add(2 * time.Hour), Price: decimal.NewFromInt(price)}
	return domain.Journey{ID: uuid.New(), Legs: []domain.Leg{l}, Status: domain.JourneyActive}
}

func TestSearch_RejectsUnsupportedSortBy(t *testing.T) {
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{}}
	eng := &engine{store: reader, reg: reg, log: zerolog.Nop()}

	_, err := eng.Search(context.Background(), Request{Source: "DEL", Dest: "BOM", SortBy: "bogus", Passengers: 1})
	assert.Error(t, err)
}

func TestSearch_RejectsSortByNotInConfiguredSet(t *testing.T) {
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{}}
	// "price" is in DefaultSortAllowed but deliberately left out of this
	// engine's configured set, proving the configured set — not the
	// package default — governs rejection.
	eng := &engine{store: reader, reg: reg, sortAllowed: map[string]bool{"duration": true}, log: zerolog.Nop()}

	_, err := eng.Search(context.Background(), Request{Source: "DEL", Dest: "BOM", SortBy: "price", Passengers: 1})
	assert.Error(t, err)
}

func TestSearch_FiltersByPassengerCount(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	j := testJourney("DEL", "BOM", dep, 1000)
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{
		cache.SearchCacheKey("DEL", "BOM", "2026-08-01"): {j},
	}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{j.Legs[0].FlightID: 1}}
	eng := &engine{store: reader, reg: reg, log: zerolog.Nop()}

	res, err := eng.Search(context.Background(), Request{Source: "DEL", Dest: "BOM", Date: domain.Date{Year: 2026, Month: 8, Day: 1}, Passengers: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Journeys)
	assert.Equal(t, 0, res.TotalMatched)
}

func TestSearch_SortsByPrice(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	cheap := testJourney("DEL", "BOM", dep, 1000)
	pricey := testJourney("DEL", "BOM", dep, 5000)
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{
		cache.SearchCacheKey("DEL", "BOM", "2026-08-01"): {pricey, cheap},
	}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{
		cheap.Legs[0].FlightID:  5,
		pricey.Legs[0].FlightID: 5,
	}}
	eng := &engine{store: reader, reg: reg, log: zerolog.Nop()}

	res, err := eng.Search(context.Background(), Request{Source: "DEL", Dest: "BOM", Date: domain.Date{Year: 2026, Month: 8, Day: 1}, Passengers: 1, SortBy: "price"})
	require.NoError(t, err)
	require.Len(t, res.Journeys, 2)
	assert.Equal(t, cheap.ID, res.Journeys[0].Journey.ID)
	assert.Equal(t, pricey.ID, res.Journeys[1].Journey.ID)
}

func TestSearch_TotalMatchedComputedBeforeLimit(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	j1 := testJourney("DEL", "BOM", dep, 1000)
	j2 := testJourney("DEL", "BOM", dep, 2000)
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{
		cache.SearchCacheKey("DEL", "BOM", "2026-08-01"): {j1, j2},
	}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{
		j1.Legs[0].FlightID: 5, j2.Legs[0].FlightID: 5,
	}}
	eng := &engine{store: reader, reg: reg, log: zerolog.Nop()}

	res, err := eng.Search(context.Background(), Request{Source: "DEL", Dest: "BOM", Date: domain.Date{Year: 2026, Month: 8, Day: 1}, Passengers: 1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Journeys, 1)
	assert.Equal(t, 2, res.TotalMatched)
}

func TestSearch_CacheHitAvoidsStoreRead(t *testing.T) {
	dep := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	j := testJourney("DEL", "BOM", dep, 1000)
	reader := &fakeJourneyReader{byKey: map[string][]domain.Journey{
		cache.SearchCacheKey("DEL", "BOM", "2026-08-01"): {j},
	}}
	reg := &fakeSeatCounts{counts: map[uuid.UUID]int{j.Legs[0].FlightID: 3}}
	c := newCacheClient(t)
	eng := &engine{store: reader, reg: reg, cache: c, ttl: time.Minute, log: zerolog.Nop()}

	req := Request{Source: "DEL", Dest: "BOM", Date: domain.Date{Year: 2026, Month: 8, Day: 1}, Passengers: 1}

	_, err := eng.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	_, err = eng.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls, "second search should be served from cache, not the store")
}
