// Package store owns the Postgres connection pool shared by
// internal/registry and internal/journeystore, plus the schema migrations
// that bootstrap spec.md §6's persisted state layout.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DB wraps *sql.DB. The teacher referenced database.NewPostgresDB from its
// cmd/*/main.go without ever defining it; this fills that gap using the
// driver the teacher's go.mod already depends on.
type DB struct {
	*sql.DB
}

// Options configures the pool. PoolSize mirrors spec.md §6's "connection
// pools (store: ≥ 50)".
type Options struct {
	DSN      string
	PoolSize int
}

// Open opens a Postgres connection pool and verifies it with a bounded
// ping.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	log.Info().Int("pool_size", poolSize).Msg("connected to postgres")
	return &DB{DB: db}, nil
}
