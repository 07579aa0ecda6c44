// Package reservation implements the Seat Reservation Layer (C5):
// time-bounded soft holds on seat ids per flight, coordinating concurrent
// booking attempts ahead of the store's authoritative transaction
// (spec.md §4.5). Grounded on the teacher's FlightService.DecrementSeats
// Lua-script pattern, generalized from a single integer counter to a
// per-seat sorted set so AcquireHold can report exactly which seats
// conflicted and FilterByActiveHolds can return the unheld subset.
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flightcore/internal/apperr"
)

// Reservation is the C5 contract from spec.md §4.5.
type Reservation interface {
	// AcquireHold is one indivisible operation across all seatIDs: purge
	// expired entries, fail closed if any requested seat is currently
	// held, else insert every seat with expiry = now + ttl and refresh
	// the collection's coarse TTL.
	AcquireHold(ctx context.Context, flightID uuid.UUID, seatIDs []uuid.UUID, ttl time.Duration) error
	// ReleaseHold removes entries unconditionally; tolerates absent
	// entries.
	ReleaseHold(ctx context.Context, flightID uuid.UUID, seatIDs []uuid.UUID) error
	// FilterByActiveHolds purges expired entries, then returns the subset
	// of candidateSeatIDs that are not currently held. Fails open (returns
	// every candidate) if the store is unavailable.
	FilterByActiveHolds(ctx context.Context, flightID uuid.UUID, candidateSeatIDs []uuid.UUID) []uuid.UUID
	// Cleanup explicitly purges expired entries for flightID.
	Cleanup(ctx context.Context, flightID uuid.UUID) error
}

type redisReservation struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New returns a Redis sorted-set backed Reservation.
func New(rdb *redis.Client, log zerolog.Logger) Reservation {
	return &redisReservation{rdb: rdb, log: log}
}

func key(flightID uuid.UUID) string {
	return fmt.Sprintf("seat_reservations:%s", flightID.String())
}

// acquireScript purges expired members (score <= now), fails if any of the
// requested members already exist, otherwise adds them all with score =
// expiry and refreshes the key TTL. All of this runs server-side as one
// atomic Lua script, satisfying spec.md §4.5's "one indivisible operation"
// requirement without a client-side lock.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local expiry = tonumber(ARGV[2])
local keyttl = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now)

for i = 4, #ARGV do
    if redis.call('ZSCORE', key, ARGV[i]) then
        return 0
    end
end

for i = 4, #ARGV do
    redis.call('ZADD', key, expiry, ARGV[i])
end
redis.call('EXPIRE', key, keyttl)
return 1
`)

func (r *redisReservation) AcquireHold(ctx context.Context, flightID uuid.UUID, seatIDs []uuid.UUID, ttl time.Duration) error {
	const op = "reservation.AcquireHold"
	if len(seatIDs) == 0 {
		return nil
	}

	now := time.Now()
	expiry := now.Add(ttl).UnixMilli()
	keyTTL := int((ttl + 30*time.Second).Seconds())

	args := make([]interface{}, 0, 3+len(seatIDs))
	args = append(args, now.UnixMilli(), expiry, keyTTL)
	for _, id := range seatIDs {
		args = append(args, id.String())
	}

	res, err := acquireScript.Run(ctx, r.rdb, []string{key(flightID)}, args...).Int()
	if err != nil {
		// External store unavailability → AcquireHold fails closed
		// (spec.md §4.5).
		return apperr.Wrap(op, apperr.SeatConflict, fmt.Errorf("reservation store unavailable: %w", err))
	}
	if res == 0 {
		return apperr.New(op, apperr.SeatConflict, fmt.Errorf("one or more seats already held for flight %s", flightID))
	}
	return nil
}

func (r *redisReservation) ReleaseHold(ctx context.Context, flightID uuid.UUID, seatIDs []uuid.UUID) error {
	const op = "reservation.ReleaseHold"
	if len(seatIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(seatIDs))
	for i, id := range seatIDs {
		members[i] = id.String()
	}
	if err := r.rdb.ZRem(ctx, key(flightID), members...).Err(); err != nil {
		return apperr.Wrap(op, apperr.Internal, err)
	}
	return nil
}

func (r *redisReservation) FilterByActiveHolds(ctx context.Context, flightID uuid.UUID, candidateSeatIDs []uuid.UUID) []uuid.UUID {
	if len(candidateSeatIDs) == 0 {
		return nil
	}

	k := key(flightID)
	now := time.Now().UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", now)).Err(); err != nil {
		r.log.Warn().Err(err).Str("flight_id", flightID.String()).Msg("reservation store unavailable, failing open")
		return candidateSeatIDs
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.FloatCmd, len(candidateSeatIDs))
	for i, id := range candidateSeatIDs {
		cmds[i] = pipe.ZScore(ctx, k, id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		r.log.Warn().Err(err).Str("flight_id", flightID.String()).Msg("reservation store unavailable, failing open")
		return candidateSeatIDs
	}

	out := make([]uuid.UUID, 0, len(candidateSeatIDs))
	for i, id := range candidateSeatIDs {
		if err := cmds[i].Err(); err != nil {
			if err == redis.Nil {
				out = append(out, id)
			}
			continue
		}
		// Present (unexpired, since we purged above) → held.
	}
	return out
}

func (r *redisReservation) Cleanup(ctx context.Context, flightID uuid.UUID) error {
	const op = "reservation.Cleanup"
	now := time.Now().UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, key(flightID), "-inf", fmt.Sprintf("%d", now)).Err(); err != nil {
		return apperr.Wrap(op, apperr.Internal, err)
	}
	return nil
}
