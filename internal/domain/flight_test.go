package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFlightValidate_RejectsSameSourceAndDest(t *testing.T) {
	f := Flight{Source: "DEL", Dest: "DEL", Departure: time.Now(), Arrival: time.Now().Add(time.Hour), Price: decimal.NewFromInt(100)}
	assert.Error(t, f.Validate())
}

func TestFlightValidate_RejectsShortAirportCode(t *testing.T) {
	f := Flight{Source: "DE", Dest: "BOM", Departure: time.Now(), Arrival: time.Now().Add(time.Hour), Price: decimal.NewFromInt(100)}
	assert.Error(t, f.Validate())
}

func TestFlightValidate_RejectsArrivalBeforeDeparture(t *testing.T) {
	dep := time.Now()
	f := Flight{Source: "DEL", Dest: "BOM", Departure: dep, Arrival: dep.Add(-time.Hour), Price: decimal.NewFromInt(100)}
	assert.Error(t, f.Validate())
}

func TestFlightValidate_RejectsNegativePrice(t *testing.T) {
	dep := time.Now()
	f := Flight{Source: "DEL", Dest: "BOM", Departure: dep, Arrival: dep.Add(time.Hour), Price: decimal.NewFromInt(-1)}
	assert.Error(t, f.Validate())
}

func TestFlightValidate_AcceptsWellFormedFlight(t *testing.T) {
	dep := time.Now()
	f := Flight{Source: "DEL", Dest: "BOM", Departure: dep, Arrival: dep.Add(2 * time.Hour), Price: decimal.NewFromInt(2500)}
	assert.NoError(t, f.Validate())
}

func TestDate_ParseAndString(t *testing.T) {
	d, err := ParseDate("2026-08-01")
	assert.NoError(t, err)
	assert.Equal(t, "2026-08-01", d.String())
}

func TestDate_BeforeAndEqual(t *testing.T) {
	a, _ := ParseDate("2026-08-01")
	b, _ := ParseDate("2026-08-02")
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestDateOfUTC_TruncatesTimeOfDay(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, Date{Year: 2026, Month: time.August, Day: 1}, DateOfUTC(t1))
}
