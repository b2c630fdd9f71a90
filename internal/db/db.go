// Package db opens the Postgres pool and applies the embedded schema.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MemoryURL selects the in-process store instead of Postgres.
const MemoryURL = "memory"

const (
	applicationName = "stablecoin-gateway"
	defaultMaxConns = 10
)

// connectPolicy covers a database container that is still starting.
var connectPolicy = retry.Policy{Attempts: 5, Interval: time.Second}

// Connect opens a pgx pool and waits until the server answers a ping.
// maxConns <= 0 selects the default pool size.
func Connect(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = min(2, maxConns)
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	attempt := 0
	err = retry.Poll(ctx, connectPolicy, func(ctx context.Context) (bool, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			zap.L().Warn("database not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database after %d attempts: %w", attempt, err)
	}
	return pool, nil
}
