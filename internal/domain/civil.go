package domain

import (
	"fmt"
	"time"
)

// Date is a calendar day with no time-of-day or timezone component. The
// spec distinguishes "the date of a departure" from the departure instant
// itself; Date keeps that distinction explicit in the type system instead
// of relying on callers to truncate a time.Time consistently.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOfUTC returns the calendar date of t after converting to UTC.
func DateOfUTC(t time.Time) Date {
	u := t.UTC()
	y, m, d := u.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a "2006-01-02" date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOfUTC(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.asTime().Before(other.asTime())
}

// Equal reports calendar equality.
func (d Date) Equal(other Date) bool {
	return d.Year == other.Year && d.Month == other.Month && d.Day == other.Day
}

func (d Date) asTime() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
