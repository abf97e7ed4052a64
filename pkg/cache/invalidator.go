package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/metrics"
)

// Invalidator empties both cache levels. It runs after a datasource switch,
// when nothing cached from the previous database can be trusted.
type Invalidator struct {
	l2      SecondLevel
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewInvalidator(l2 SecondLevel, logger *zap.Logger, m *metrics.Metrics) *Invalidator {
	if l2 == nil {
		l2 = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		l2:      l2,
		logger:  logger.Named("cache"),
		metrics: m,
	}
}

// Invalidate clears the session carried by ctx, then every level-2 region.
// Every region is attempted; failures are joined into the returned error.
func (i *Invalidator) Invalidate(ctx context.Context) error {
	if s, ok := SessionFrom(ctx); ok {
		n := s.Len()
		s.Clear()
		i.logger.Debug("session cache cleared", zap.Int("entries", n))
	}

	var errs []error
	for _, region := range Regions {
		if err := i.l2.EvictRegion(ctx, region); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", region, err))
			continue
		}
		i.metrics.ObserveEviction(region.String())
	}

	if err := errors.Join(errs...); err != nil {
		i.logger.Error("cache invalidation incomplete", zap.Error(err))
		return err
	}

	i.logger.Info("caches invalidated", zap.Int("regions", len(Regions)))
	return nil
}
