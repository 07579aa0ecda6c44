// Package logging wires the root zerolog.Logger used across every
// component, replacing the teacher's bare log.Printf calls with structured
// fields (component, flight_id, journey_id, booking_id).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. serviceName tags every line so logs from
// cmd/server and cmd/generator-worker can be told apart downstream.
func New(serviceName string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Component returns a child logger tagged with the owning component, the
// granularity spec.md's components (C1..C7) are named at.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
