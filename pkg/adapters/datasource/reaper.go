package datasource

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/logging"
)

// reapLoop periodically retires superseded pools under the deferred policy.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapSuperseded(time.Now())
		case <-m.ctx.Done():
			return
		}
	}
}

// reapSuperseded retires every superseded pool older than RetireGrace. A pool
// that is still busy is marked retired and picked up again on a later tick.
func (m *Manager) reapSuperseded(now time.Time) {
	var due []*PoolHandle

	m.mu.Lock()
	for _, h := range m.superseded {
		if h.IsRetired() || now.Sub(h.supersededAt.Load()) >= m.config.RetireGrace {
			due = append(due, h)
		}
	}
	m.mu.Unlock()

	if len(due) == 0 {
		return
	}

	m.logger.Debug("reaping superseded pools", zap.Int("count", len(due)))

	for _, h := range due {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.ReapInterval/2)
		err := m.RetirePool(ctx, h)
		cancel()

		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			m.logger.Warn("failed to reap superseded pool",
				zap.String("pool", h.Name),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
}
