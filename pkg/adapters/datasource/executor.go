package datasource

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/logging"
	"github.com/ppcxy/cyfm-engine/pkg/metrics"
)

// Executor is the shared query handle bound to a Manager.
type Executor struct {
	manager *Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor over the manager's active pool.
func NewExecutor(manager *Manager, logger *zap.Logger, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		manager: manager,
		logger:  logger.Named("executor"),
		metrics: m,
	}
}

// EnsureInitialized forwards to the manager.
func (e *Executor) EnsureInitialized() {
	e.manager.EnsureInitialized()
}

func (e *Executor) WithHandle(ctx context.Context, fn func(ctx context.Context, h *PoolHandle) error) error {
	h, release, err := e.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = fn(ctx, h)
	e.metrics.ObserveQuery(h.Dialect.String(), time.Since(start).Seconds())

	return e.manager.errorTranslator().translate(err)
}

func (e *Executor) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	err := e.WithHandle(ctx, func(ctx context.Context, h *PoolHandle) error {
		return h.DB().SelectContext(ctx, dest, query, args...)
	})
	e.logFailure(query, err)
	return err
}

func (e *Executor) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	err := e.WithHandle(ctx, func(ctx context.Context, h *PoolHandle) error {
		return h.DB().GetContext(ctx, dest, query, args...)
	})
	e.logFailure(query, err)
	return err
}

func (e *Executor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := e.WithHandle(ctx, func(ctx context.Context, h *PoolHandle) error {
		var execErr error
		result, execErr = h.DB().ExecContext(ctx, query, args...)
		return execErr
	})
	e.logFailure(query, err)
	return result, err
}

func (e *Executor) QueryContext(ctx context.Context, scan func(*sqlx.Rows) error, query string, args ...any) error {
	err := e.WithHandle(ctx, func(ctx context.Context, h *PoolHandle) error {
		rows, err := h.DB().QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	e.logFailure(query, err)
	return err
}

func (e *Executor) Builder(d Dialect) goqu.DialectWrapper {
	return e.manager.builder(d)
}

func (e *Executor) Current() (*PoolHandle, bool) {
	return e.manager.Current()
}

func (e *Executor) logFailure(query string, err error) {
	if err == nil {
		return
	}
	e.logger.Debug("statement failed",
		zap.String("query", logging.SanitizeQuery(query)),
		zap.String("error", logging.SanitizeError(err)))
}

var _ QueryExecutor = (*Executor)(nil)
