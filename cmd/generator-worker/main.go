// Command generator-worker runs the Journey Generator (C3) as a
// standalone consumer of the flight-created event bus, acknowledging each
// delivery only after generation reports DONE (spec.md §4.7).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"flightcore/internal/apperr"
	"flightcore/internal/cache"
	"flightcore/internal/config"
	"flightcore/internal/eventbus"
	"flightcore/internal/generator"
	"flightcore/internal/journeystore"
	"flightcore/internal/logging"
	"flightcore/internal/registry"
	"flightcore/internal/store"
)

func main() {
	logger := logging.New("generator-worker")

	cfg, err := config.Load(viper.New())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Options{DSN: cfg.PostgresDSN, PoolSize: cfg.StorePoolSize}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rdb, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, PoolSize: cfg.StorePoolSize}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	reg := registry.New(db.DB, logging.Component(logger, "registry"))
	jstore := journeystore.New(db.DB, logging.Component(logger, "journeystore"))
	gen := generator.New(reg, jstore, cfg.Constraints(), logging.Component(logger, "generator"))
	bus := eventbus.New(rdb.Client, cfg.BusPartitions, "generator-worker", logging.Component(logger, "eventbus"))

	if err := bus.EnsureGroups(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure event bus consumer groups")
	}

	logger.Info().Int("partitions", cfg.BusPartitions).Msg("generator worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("generator worker shutting down")
			return
		default:
		}

		deliveries, err := bus.Consume(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("event bus consume failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		for _, d := range deliveries {
			n, err := gen.ProcessFlightCreated(ctx, d.Event.FlightID)
			if err != nil {
				kind := apperr.KindOf(err)
				if kind == apperr.NotFound || kind == apperr.InvalidInput {
					// Invariant-violating payload: log and ack (spec.md §4.3).
					logger.Error().Err(err).Str("flight_id", d.Event.FlightID.String()).Msg("permanent failure processing event, acknowledging")
					if ackErr := bus.Ack(ctx, d); ackErr != nil {
						logger.Warn().Err(ackErr).Msg("failed to ack permanently-failed delivery")
					}
					continue
				}
				// Transient failure: do not ack, let it redeliver.
				logger.Warn().Err(err).Str("flight_id", d.Event.FlightID.String()).Msg("transient failure processing event, will redeliver")
				continue
			}

			if err := bus.Ack(ctx, d); err != nil {
				logger.Warn().Err(err).Str("flight_id", d.Event.FlightID.String()).Msg("failed to ack processed delivery, will redeliver")
				continue
			}
			logger.Info().Str("flight_id", d.Event.FlightID.String()).Int("journeys_persisted", n).Msg("flight-created event processed")
		}
	}
}
