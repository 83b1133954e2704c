// Package db wraps the process-wide connection pool spec.md §9 calls for:
// "an explicitly-passed resource handle (process-wide, initialized at
// startup, torn down at shutdown). Every stage entry point receives the
// handle as a parameter." Grounded on the pgxpool setup in
// stellar-postgres-ingester/go/main.go.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obsrvr/tradeledger/internal/config"
)

type Pool struct {
	*pgxpool.Pool
}

// Open creates the shared pool sized at workers*2 connections per
// spec.md §5's "Pool size = worker count × 2".
func Open(ctx context.Context, cfg config.DBConfig, workers int) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}
	poolCfg.MaxConns = int32(workers * 2)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}
