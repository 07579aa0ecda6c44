package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FlightStatus is the lifecycle status of a Flight (spec.md §3).
type FlightStatus string

const (
	FlightActive    FlightStatus = "ACTIVE"
	FlightCancelled FlightStatus = "CANCELLED"
)

// Flight is the airline's published service between two airports on a
// given day. Seats belong to exactly one flight (exclusive ownership);
// flights are never deleted in this core, only status-mutated.
type Flight struct {
	ID        uuid.UUID
	Source    string // 3-letter IATA-style code
	Dest      string // 3-letter IATA-style code, != Source
	Departure time.Time
	Arrival   time.Time
	Aircraft  string
	Price     decimal.Decimal
	Status    FlightStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate enforces the §3 Flight invariants that do not depend on other
// flights (arrival > departure, source != dest, non-negative price).
func (f Flight) Validate() error {
	if f.Source == f.Dest {
		return errInvalid("flight source and destination must differ")
	}
	if len(f.Source) != 3 || len(f.Dest) != 3 {
		return errInvalid("airport codes must be 3 letters")
	}
	if !f.Arrival.After(f.Departure) {
		return errInvalid("flight arrival must be strictly after departure")
	}
	if f.Price.IsNegative() {
		return errInvalid("flight price must be non-negative")
	}
	return nil
}

// SeatStatus is the lifecycle status of a Seat (spec.md §3).
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatBooked    SeatStatus = "BOOKED"
	SeatBlocked   SeatStatus = "BLOCKED"
)

// Seat belongs exclusively to one Flight. BookingID is a weak
// back-reference (a lookup, not ownership): seat.Status == SeatBooked iff
// BookingID is set and that booking is CONFIRMED.
type Seat struct {
	ID        uuid.UUID
	FlightID  uuid.UUID
	Label     string
	Status    SeatStatus
	BookingID *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxSeatsPerFlight and MinSeatsPerFlight bound CreateFlight's seat count
// input (spec.md §4.1: "1 ≤ seat count ≤ 500").
const (
	MinSeatsPerFlight = 1
	MaxSeatsPerFlight = 500
)

func errInvalid(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
