// Package database builds the pgx connection pool shared by the server,
// the index worker and the backfill command.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the startup connectivity probe so a wrong DSN fails
// fast instead of hanging until the caller's context expires.
const pingTimeout = 5 * time.Second

// Config holds pool construction settings. Zero sizing values keep the
// pgx defaults.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Connect parses the DSN, opens a pool and verifies connectivity with a
// bounded ping. The returned pool is ready for concurrent use.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
