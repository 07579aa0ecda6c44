package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JourneyStatus is the lifecycle status of a Journey (spec.md §3).
type JourneyStatus string

const (
	JourneyActive   JourneyStatus = "ACTIVE"
	JourneyDisabled JourneyStatus = "DISABLED"
)

// Leg is one flight positioned within a Journey by its 1-based Order.
// Source, Dest, Dep, Arr and Price carry the attributes needed to validate connections and
// compute derived journey fields without a second round-trip to the
// registry; it is a denormalized read, not a second ownership reference.
type Leg struct {
	Order    int
	FlightID uuid.UUID
	Source   string
	Dest     string
	Dep      time.Time
	Arr      time.Time
	Price    decimal.Decimal
}

// Journey is an ordered sequence of 1..MAX_LEGS legs. Leg order is an
// identity property: it is never reordered for deduplication or lookup.
type Journey struct {
	ID        uuid.UUID
	Legs      []Leg
	Status    JourneyStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source is the derived source of the journey (first leg's source).
func (j Journey) Source() string { return j.Legs[0].Source }

// Dest is the derived destination of the journey (last leg's destination).
func (j Journey) Dest() string { return j.Legs[len(j.Legs)-1].Dest }

// Departure is the derived departure instant (first leg's departure).
func (j Journey) Departure() time.Time { return j.Legs[0].Dep }

// Arrival is the derived arrival instant (last leg's arrival).
func (j Journey) Arrival() time.Time { return j.Legs[len(j.Legs)-1].Arr }

// TotalPrice is the sum of leg prices.
func (j Journey) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range j.Legs {
		total = total.Add(l.Price)
	}
	return total
}

// Duration is Arrival - Departure.
func (j Journey) Duration() time.Duration {
	return j.Arrival().Sub(j.Departure())
}

// LegIDSequence returns the ordered flight-id sequence, the journey's
// canonical identity per spec.md §3/§4.2.
func (j Journey) LegIDSequence() []uuid.UUID {
	ids := make([]uuid.UUID, len(j.Legs))
	for i, l := range j.Legs {
		ids[i] = l.FlightID
	}
	return ids
}

// CanonicalKey renders LegIDSequence as a stable string, used both as the
// local per-event dedup key (spec.md §4.3) and as the input to the
// canonical-uniqueness hash persisted by the journey store (spec.md §4.2).
func CanonicalKey(flightIDs []uuid.UUID) string {
	parts := make([]string, len(flightIDs))
	for i, id := range flightIDs {
		parts[i] = id.String()
	}
	return strings.Join(parts, ">")
}

// Constraints bundles the tunable journey-shape limits from spec.md §3's
// global constants so domain validation stays independent of config's
// concrete loading mechanism.
type Constraints struct {
	LayoverMin   time.Duration
	LayoverMax   time.Duration
	MaxDuration  time.Duration
	MaxLegs      int
}

// ValidateJourney enforces every §3 Journey invariant against a candidate,
// ordered leg list. It is the single source of truth for what makes a
// sequence a valid journey — the generator must call this before
// persisting, rather than relying on any storage-level constraint (see
// spec.md §9's note on the source's masked bug).
func ValidateJourney(legs []Leg, c Constraints) error {
	if len(legs) < 1 || len(legs) > c.MaxLegs {
		return errInvalid("journey leg count out of range")
	}

	seen := make(map[uuid.UUID]bool, len(legs))
	for i, l := range legs {
		if l.Order != i+1 {
			return errInvalid("journey legs must be in strict 1-based order")
		}
		if seen[l.FlightID] {
			return errInvalid("journey must not repeat a flight")
		}
		seen[l.FlightID] = true
		if !l.Arr.After(l.Dep) {
			return errInvalid("leg arrival must be after leg departure")
		}
	}

	for i := 0; i+1 < len(legs); i++ {
		cur, next := legs[i], legs[i+1]
		if cur.Dest != next.Source {
			return errInvalid("consecutive legs must connect source to destination")
		}
		layover := next.Dep.Sub(cur.Arr)
		if layover < c.LayoverMin || layover > c.LayoverMax {
			return errInvalid("layover out of bounds")
		}
	}

	src := legs[0].Source
	dst := legs[len(legs)-1].Dest
	if src == dst {
		return errInvalid("journey source and destination must differ")
	}

	total := legs[len(legs)-1].Arr.Sub(legs[0].Dep)
	if total > c.MaxDuration {
		return errInvalid("journey total duration exceeds maximum")
	}

	return nil
}
