// Package eventbus implements the Event Bus Adapter (C7) over Redis
// Streams: publish after a flight is created, deliver to the Journey
// Generator with at-least-once semantics, partitioned by flight id so
// events for a given flight are ordered (spec.md §4.7). Grounded on the
// pack's Redis-everywhere stack rather than introducing Kafka — the
// teacher and most of the pack already depend on go-redis and no
// component needs Kafka's additional guarantees (see SPEC_FULL.md §4.7).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flightcore/internal/apperr"
)

// FlightCreated is the event record on the bus (spec.md §6).
type FlightCreated struct {
	FlightID  uuid.UUID `json:"flightId"`
	Source    string    `json:"src"`
	Dest      string    `json:"dst"`
	Departure time.Time `json:"departure"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Delivery wraps a FlightCreated with the stream metadata needed to ack it.
type Delivery struct {
	Event    FlightCreated
	streamID string
	key      string
}

// Bus is the C7 contract from spec.md §4.7.
type Bus interface {
	// Publish partitions by flightId hashed into one of Partitions
	// stream keys, preserving per-flight ordering.
	Publish(ctx context.Context, ev FlightCreated) error
	// Consume returns this consumer's still-pending deliveries if there are
	// any; otherwise it waits up to about two seconds for new ones and may
	// return none. It reads every partition this consumer owns, using a single
	// consumer-group member per partition (spec.md §4.7: "single-logical-
	// consumer per partition; horizontal scaling is achieved by partition
	// count, not by multiple consumers per partition").
	Consume(ctx context.Context) ([]Delivery, error)
	// Ack acknowledges a delivery; the consumer must only call this after
	// the Journey Generator reports DONE for that event (spec.md §4.7).
	Ack(ctx context.Context, d Delivery) error
	// EnsureGroups creates the consumer group on every partition stream if
	// it does not already exist. Safe to call repeatedly.
	EnsureGroups(ctx context.Context) error
}

const (
	streamPrefix  = "flight-events"
	consumerGroup = "journey-generator"
)

type redisBus struct {
	rdb        *redis.Client
	partitions int
	consumerID string
	log        zerolog.Logger
}

// New returns a Redis-Streams-backed Bus with the given number of
// partitions (spec.md §6's "bus partition count").
func New(rdb *redis.Client, partitions int, consumerID string, log zerolog.Logger) Bus {
	if partitions < 1 {
		partitions = 1
	}
	return &redisBus{rdb: rdb, partitions: partitions, consumerID: consumerID, log: log}
}

func (b *redisBus) streamKey(flightID uuid.UUID) string {
	h := fnv32a(flightID.String())
	return fmt.Sprintf("%s:%d", streamPrefix, h%uint32(b.partitions))
}

func (b *redisBus) allStreamKeys() []string {
	keys := make([]string, b.partitions)
	for i := 0; i < b.partitions; i++ {
		keys[i] = fmt.Sprintf("%s:%d", streamPrefix, i)
	}
	return keys
}

func (b *redisBus) EnsureGroups(ctx context.Context) error {
	const op = "eventbus.EnsureGroups"
	for _, k := range b.allStreamKeys() {
		err := b.rdb.XGroupCreateMkStream(ctx, k, consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return apperr.Wrap(op, apperr.BusUnavailable, err)
		}
	}
	return nil
}

func (b *redisBus) Publish(ctx context.Context, ev FlightCreated) error {
	const op = "eventbus.Publish"
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperr.Wrap(op, apperr.Internal, err)
	}

	key := b.streamKey(ev.FlightID)
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"payload": payload},
	}).Err(); err != nil {
		return apperr.Wrap(op, apperr.BusUnavailable, err)
	}
	return nil
}

// Consume reads up to ten pending-or-new messages per partition, blocking
// briefly so a worker loop can poll without busy-spinning. It first
// reclaims this consumer's own still-pending entries — delivered by an
// earlier Consume but never Acked, e.g. the process crashed mid-processing
// — before reading new ones, so at-least-once redelivery (spec.md §4.7)
// actually happens rather than only ever handing out fresh entries.
func (b *redisBus) Consume(ctx context.Context) ([]Delivery, error) {
	pending, err := b.read(ctx, "0", -1)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return b.read(ctx, ">", 2*time.Second)
}

// read performs one XREADGROUP across every partition stream. id is ">"
// for never-before-delivered entries or "0" to replay this consumer's own
// pending entries (redis-streams convention); block < 0 means do not block.
func (b *redisBus) read(ctx context.Context, id string, block time.Duration) ([]Delivery, error) {
	const op = "eventbus.read"

	streams := make([]string, 0, 2*b.partitions)
	for _, k := range b.allStreamKeys() {
		streams = append(streams, k)
	}
	for range b.allStreamKeys() {
		streams = append(streams, id)
	}

	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: b.consumerID,
		Streams:  streams,
		Count:    10,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperr.Wrap(op, apperr.BusUnavailable, err)
	}

	var out []Delivery
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var s string
			switch v := raw.(type) {
			case string:
				s = v
			default:
				s = fmt.Sprintf("%v", v)
			}
			var ev FlightCreated
			if err := json.Unmarshal([]byte(s), &ev); err != nil {
				// Invariant-violating payload: log and ack so it is not
				// redelivered forever (spec.md §4.3 failure semantics).
				b.log.Error().Err(err).Str("stream", stream.Stream).Str("id", msg.ID).Msg("undecodable event payload, acking to drop")
				_ = b.rdb.XAck(ctx, stream.Stream, consumerGroup, msg.ID).Err()
				continue
			}
			out = append(out, Delivery{Event: ev, streamID: msg.ID, key: stream.Stream})
		}
	}
	return out, nil
}

func (b *redisBus) Ack(ctx context.Context, d Delivery) error {
	const op = "eventbus.Ack"
	if err := b.rdb.XAck(ctx, d.key, consumerGroup, d.streamID).Err(); err != nil {
		return apperr.Wrap(op, apperr.BusUnavailable, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// fnv32a is a tiny FNV-1a hash used only to pick a stable partition for a
// flight id; it is not used for anything security-sensitive.
func fnv32a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
