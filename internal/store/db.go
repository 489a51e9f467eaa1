package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/planwise/internal/config"
)

const (
	applicationName   = "planwise-worker"
	healthCheckPeriod = 30 * time.Second
)

// Connect opens a pgx pool sized from cfg and verifies it with a ping.
// Idle connections never exceed the pool size.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	maxConns := int32(cfg.MaxOpenConns)
	minConns := int32(cfg.MaxIdleConns)
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > poolCfg.MaxConns {
		minConns = poolCfg.MaxConns
	}
	poolCfg.MinConns = minConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
