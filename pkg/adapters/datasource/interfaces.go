package datasource

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// QueryExecutor runs statements against whichever pool is active when the
// call starts. Rows never outlive the call, so a pool can be retired as soon
// as the calls that acquired it return.
type QueryExecutor interface {
	// SelectContext scans all result rows into dest (a pointer to a slice).
	SelectContext(ctx context.Context, dest any, query string, args ...any) error

	// GetContext scans a single row into dest. No rows yields apperrors.ErrNotFound.
	GetContext(ctx context.Context, dest any, query string, args ...any) error

	// ExecContext runs a statement that returns no rows.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)

	// QueryContext calls scan once per result row.
	QueryContext(ctx context.Context, scan func(*sqlx.Rows) error, query string, args ...any) error

	// WithHandle runs fn with the active pool held in-flight for its duration.
	WithHandle(ctx context.Context, fn func(ctx context.Context, h *PoolHandle) error) error

	// Builder returns the SQL builder for a dialect.
	Builder(d Dialect) goqu.DialectWrapper

	// Current returns the active pool, if any.
	Current() (*PoolHandle, bool)
}

// PoolOpener provisions pools from specs.
type PoolOpener interface {
	// Open resolves spec, opens the pool with retries and verifies it with a ping.
	Open(ctx context.Context, spec PoolSpec) (*PoolHandle, error)

	// TestConnection opens spec, pings it and closes it again.
	TestConnection(ctx context.Context, spec PoolSpec) error

	// ListTypes returns info for all compiled-in adapters.
	ListTypes() []DatasourceAdapterInfo
}
