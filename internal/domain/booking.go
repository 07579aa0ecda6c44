package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle status of a Booking (spec.md §3).
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking references its Journey weakly (by id); the journey never owns a
// booking back-reference, matching the ownership rules in spec.md §9.
type Booking struct {
	ID          uuid.UUID
	UserID      string
	JourneyID   uuid.UUID
	Passengers  int
	Status      BookingStatus
	PaymentRef  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SeatAssignment is the per-leg seat-label projection returned to the
// caller, joined from Registry seat rows at read time.
type SeatAssignment struct {
	FlightID    uuid.UUID
	SeatLabels  []string
}

// Response is the full projection GetBooking/CreateBooking return,
// joining booking + journey + legs + seat labels per spec.md §4.6.
type Response struct {
	Booking         Booking
	Journey         Journey
	SeatAssignments []SeatAssignment
	TotalPrice      decimal.Decimal
}
