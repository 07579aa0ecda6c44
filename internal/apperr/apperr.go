// Package apperr defines the error taxonomy shared across every component
// (spec.md §7). Components wrap underlying errors with fmt.Errorf("...: %w")
// in the teacher's style; callers at the app facade boundary unwrap down to
// a Kind to decide what, if anything, is safe to surface to a client.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way spec.md §7 enumerates them.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	DuplicateFlight
	JourneyNotFound
	InsufficientSeats
	SeatConflict
	StoreUnavailable
	CacheUnavailable // internal only; never surfaced to clients
	BusUnavailable   // internal only; causes event re-delivery
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case DuplicateFlight:
		return "DuplicateFlight"
	case JourneyNotFound:
		return "JourneyNotFound"
	case InsufficientSeats:
		return "InsufficientSeats"
	case SeatConflict:
		return "SeatConflict"
	case StoreUnavailable:
		return "StoreUnavailable"
	case CacheUnavailable:
		return "CacheUnavailable"
	case BusUnavailable:
		return "BusUnavailable"
	case NotFound:
		return "NotFound"
	default:
		return "Internal"
	}
}

// Error is the concrete error type every component returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error, following the teacher's fmt.Errorf wrapping idiom.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap tags err with kind under op unless it is already an *Error, in
// which case its existing Kind is preserved (the deepest component knows
// the true failure kind best).
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Op: op, Kind: existing.Kind, Err: err}
	}
	return New(op, kind, err)
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
