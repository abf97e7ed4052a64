package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

// Open creates a pgx pool sized from the pool spec.
func Open(ctx context.Context, spec datasource.PoolSpec) (datasource.PoolConnector, error) {
	connStr, err := BuildConnectionString(spec)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if spec.MaxConns > 0 {
		poolConfig.MaxConns = spec.MaxConns
	}
	if spec.MinConns > 0 {
		poolConfig.MinConns = spec.MinConns
	}
	if spec.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = spec.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return datasource.NewPostgresPoolWrapper(pool), nil
}
