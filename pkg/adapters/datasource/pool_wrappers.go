package datasource

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresPoolWrapper wraps *pgxpool.Pool to implement PoolConnector. The
// executor reaches the pool through a database/sql adapter so all dialects
// share one query path.
type PostgresPoolWrapper struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgresPoolWrapper creates a new PostgreSQL pool wrapper
func NewPostgresPoolWrapper(pool *pgxpool.Pool) *PostgresPoolWrapper {
	return &PostgresPoolWrapper{
		pool: pool,
		db:   sqlx.NewDb(stdlib.OpenDBFromPool(pool), DialectPostgreSQL.DriverName()),
	}
}

// Ping verifies the PostgreSQL connection is alive
func (w *PostgresPoolWrapper) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close closes the database/sql adapter, then every pooled connection.
func (w *PostgresPoolWrapper) Close() error {
	err := w.db.Close()
	w.pool.Close()
	return err
}

// GetType returns the database type
func (w *PostgresPoolWrapper) GetType() string {
	return "postgres"
}

func (w *PostgresPoolWrapper) DB() *sqlx.DB {
	return w.db
}

// GetPool returns the underlying *pgxpool.Pool
func (w *PostgresPoolWrapper) GetPool() *pgxpool.Pool {
	return w.pool
}

// SQLPoolWrapper wraps a database/sql pool (SQL Server, MySQL) to implement
// PoolConnector.
type SQLPoolWrapper struct {
	db     *sqlx.DB
	dbType string
}

// NewSQLPoolWrapper wraps db opened with the given database/sql driver.
func NewSQLPoolWrapper(db *sql.DB, driverName, dbType string) *SQLPoolWrapper {
	return &SQLPoolWrapper{
		db:     sqlx.NewDb(db, driverName),
		dbType: dbType,
	}
}

// Ping verifies the connection is alive
func (w *SQLPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes all connections in the pool
func (w *SQLPoolWrapper) Close() error {
	return w.db.Close()
}

// GetType returns the database type
func (w *SQLPoolWrapper) GetType() string {
	return w.dbType
}

func (w *SQLPoolWrapper) DB() *sqlx.DB {
	return w.db
}

// GetPostgresPool extracts the underlying *pgxpool.Pool from a PoolConnector.
func GetPostgresPool(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PostgresPoolWrapper)
	if !ok {
		return nil, errors.New("connector is not a PostgreSQL pool wrapper")
	}
	return wrapper.GetPool(), nil
}

var (
	_ PoolConnector = (*PostgresPoolWrapper)(nil)
	_ PoolConnector = (*SQLPoolWrapper)(nil)
)
