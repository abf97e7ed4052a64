package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
	"github.com/ppcxy/cyfm-engine/pkg/retry"
)

type registryOpener struct {
	defaults PoolDefaults
	retry    *retry.Config
	logger   *zap.Logger
}

// NewPoolOpener returns an opener backed by the adapter registry. Transient
// connect failures are retried with backoff.
func NewPoolOpener(defaults PoolDefaults, retryCfg *retry.Config, logger *zap.Logger) PoolOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryOpener{
		defaults: defaults,
		retry:    retryCfg,
		logger:   logger.Named("pool-opener"),
	}
}

func (o *registryOpener) Open(ctx context.Context, spec PoolSpec) (*PoolHandle, error) {
	resolved, factory, err := o.prepare(spec)
	if err != nil {
		return nil, err
	}

	conn, err := retry.DoWithResultIfRetryable(ctx, o.retry, func() (PoolConnector, error) {
		c, err := factory(ctx, resolved)
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		o.logger.Warn("failed to open pool",
			zap.String("name", resolved.Name),
			zap.String("target", resolved.Summary()),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("open pool %s: %w", resolved.Name, err)
	}

	h := NewPoolHandle(resolved, conn)
	o.logger.Info("pool opened",
		zap.String("name", h.Name),
		zap.String("pool_id", h.ID.String()),
		zap.String("target", resolved.Summary()),
		zap.Int32("max_conns", resolved.MaxConns))
	return h, nil
}

func (o *registryOpener) TestConnection(ctx context.Context, spec PoolSpec) error {
	resolved, factory, err := o.prepare(spec)
	if err != nil {
		return err
	}

	conn, err := factory(ctx, resolved)
	if err != nil {
		return fmt.Errorf("open pool %s: %w", resolved.Name, err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (o *registryOpener) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

func (o *registryOpener) prepare(spec PoolSpec) (PoolSpec, PoolFactory, error) {
	resolved, err := spec.Resolve()
	if err != nil {
		return spec, nil, err
	}
	resolved = resolved.WithDefaults(o.defaults)

	factory := GetFactory(resolved.Dialect)
	if factory == nil {
		return resolved, nil, fmt.Errorf("unsupported datasource type: %s (not compiled in): %w", resolved.Dialect, apperrors.ErrUnsupportedDialect)
	}
	return resolved, factory, nil
}

var _ PoolOpener = (*registryOpener)(nil)
