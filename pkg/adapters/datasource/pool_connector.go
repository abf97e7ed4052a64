package datasource

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PoolConnector abstracts a live connection pool across database types
// (PostgreSQL, SQL Server, MySQL).
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string

	// DB returns the database/sql view of the pool used by the executor.
	DB() *sqlx.DB
}
