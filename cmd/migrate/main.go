// Command migrate applies the schema migrations in
// internal/store/migrations against the configured Postgres database.
package main

import (
	"context"
	"log"

	"github.com/spf13/viper"

	"flightcore/internal/config"
	"flightcore/internal/logging"
	"flightcore/internal/store"
)

func main() {
	logger := logging.New("migrate")

	cfg, err := config.Load(viper.New())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := store.Open(context.Background(), store.Options{DSN: cfg.PostgresDSN, PoolSize: 5}, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	logger.Info().Msg("migrations applied")
}
