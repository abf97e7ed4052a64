package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
	"github.com/ppcxy/cyfm-engine/pkg/metrics"
)

// RetirementPolicy decides what happens to a pool after it is superseded.
type RetirementPolicy string

const (
	// RetireManual leaves superseded pools open until RetirePool is called.
	RetireManual RetirementPolicy = "manual"
	// RetireDeferred lets the reaper retire superseded pools after RetireGrace.
	RetireDeferred RetirementPolicy = "deferred"
	// RetireImmediate retires the previous pool as soon as a switch succeeds,
	// still waiting for its in-flight statements.
	RetireImmediate RetirementPolicy = "immediate"
)

const (
	DefaultRetireGrace   = 30 * time.Second
	DefaultSwitchTimeout = 5 * time.Second
	DefaultReapInterval  = 5 * time.Second
	drainPollInterval    = 10 * time.Millisecond
)

// BindingState is UNBOUND until the first successful switch.
type BindingState string

const (
	StateUnbound BindingState = "UNBOUND"
	StateBound   BindingState = "BOUND"
)

// ManagerConfig holds switch and retirement settings.
type ManagerConfig struct {
	RetirementPolicy RetirementPolicy
	RetireGrace      time.Duration
	ValidateOnSwitch bool
	SwitchTimeout    time.Duration
	LazyInit         bool
	ReapInterval     time.Duration
}

// DefaultManagerConfig returns manual retirement with validation on switch.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RetirementPolicy: RetireManual,
		RetireGrace:      DefaultRetireGrace,
		ValidateOnSwitch: true,
		SwitchTimeout:    DefaultSwitchTimeout,
		ReapInterval:     DefaultReapInterval,
	}
}

// ManagerStats is a snapshot of the manager for the admin API.
type ManagerStats struct {
	State            BindingState     `json:"state"`
	Active           *HandleInfo      `json:"active,omitempty"`
	Superseded       []HandleInfo     `json:"superseded"`
	RetirementPolicy RetirementPolicy `json:"retirement_policy"`
	Switches         int64            `json:"switches"`
	FailedSwitches   int64            `json:"failed_switches"`
	Retired          int64            `json:"retired"`
	Initialized      bool             `json:"initialized"`
}

// Manager owns the active connection pool. Readers load the active handle
// without locking; switches, retirements and Close are serialized by mu.
type Manager struct {
	active atomic.Pointer[PoolHandle]

	mu         sync.Mutex
	superseded []*PoolHandle

	config  ManagerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	initOnce    sync.Once
	initialized *atomic.Bool
	translator  *errorTranslator
	builders    map[Dialect]goqu.DialectWrapper

	switches       *atomic.Int64
	failedSwitches *atomic.Int64
	retiredCount   *atomic.Int64

	closed *atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an UNBOUND manager. With the deferred policy a reaper
// goroutine runs until Close.
func NewManager(cfg ManagerConfig, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if cfg.RetirementPolicy == "" {
		cfg.RetirementPolicy = RetireManual
	}
	if cfg.RetireGrace <= 0 {
		cfg.RetireGrace = DefaultRetireGrace
	}
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = DefaultSwitchTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		config:         cfg,
		logger:         logger.Named("datasource"),
		metrics:        m,
		initialized:    atomic.NewBool(false),
		switches:       atomic.NewInt64(0),
		failedSwitches: atomic.NewInt64(0),
		retiredCount:   atomic.NewInt64(0),
		closed:         atomic.NewBool(false),
		ctx:            ctx,
		cancel:         cancel,
	}

	if cfg.RetirementPolicy == RetireDeferred {
		mgr.wg.Add(1)
		go mgr.reapLoop()
	}

	return mgr
}

// Config returns the manager's configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// SwitchPool makes newPool the active pool. It never returns an error and
// never panics: any failure is logged, counted and reported as false, and the
// previous binding stays in place. The previous pool is not closed here.
func (m *Manager) SwitchPool(newPool *PoolHandle) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic during datasource switch",
				zap.String("pool", handleName(newPool)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			m.recordSwitch(false)
			ok = false
		}
	}()

	if m.closed.Load() {
		m.logger.Error("datasource switch rejected: manager closed", zap.String("pool", handleName(newPool)))
		m.recordSwitch(false)
		return false
	}

	if err := m.validate(newPool); err != nil {
		m.logger.Error("datasource switch rejected",
			zap.String("pool", handleName(newPool)),
			zap.String("error", logging.SanitizeError(err)))
		m.recordSwitch(false)
		return false
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		m.logger.Error("datasource switch rejected: manager closed during validation", zap.String("pool", newPool.Name))
		m.recordSwitch(false)
		return false
	}
	if newPool.IsRetired() {
		m.mu.Unlock()
		m.logger.Error("datasource switch rejected: pool retired during validation", zap.String("pool", newPool.Name))
		m.recordSwitch(false)
		return false
	}
	prev := m.active.Swap(newPool)
	m.removeSupersededLocked(newPool)
	newPool.supersededAt.Store(time.Time{})
	retirePrev := false
	if prev != nil && prev != newPool {
		prev.supersededAt.Store(time.Now())
		m.superseded = append(m.superseded, prev)
		// Close sets closed before taking mu, so its wg.Wait sees this.
		if m.config.RetirementPolicy == RetireImmediate {
			retirePrev = true
			m.wg.Add(1)
		}
	}
	m.mu.Unlock()

	m.recordSwitch(true)

	fields := []zap.Field{
		zap.String("pool", newPool.Name),
		zap.String("pool_id", newPool.ID.String()),
		zap.String("dialect", newPool.Dialect.String()),
	}
	if prev != nil && prev != newPool {
		fields = append(fields, zap.String("previous", prev.Name), zap.String("previous_id", prev.ID.String()))
	}
	m.logger.Info("datasource switched", fields...)

	if retirePrev {
		go m.retireInBackground(prev)
	}

	return true
}

func (m *Manager) validate(h *PoolHandle) error {
	if h == nil {
		return errors.New("pool handle is nil")
	}
	if h.connector == nil {
		return fmt.Errorf("pool %s has no connector", h.Name)
	}
	if h.IsRetired() || h.IsClosed() {
		return fmt.Errorf("pool %s: %w", h.Name, apperrors.ErrPoolRetired)
	}
	if _, err := ParseDialect(string(h.Dialect)); err != nil {
		return err
	}
	if !m.config.ValidateOnSwitch {
		return nil
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.config.SwitchTimeout)
	defer cancel()
	if err := h.connector.Ping(ctx); err != nil {
		return fmt.Errorf("validation ping for pool %s failed: %w", h.Name, err)
	}
	return nil
}

func (m *Manager) recordSwitch(ok bool) {
	if ok {
		m.switches.Inc()
	} else {
		m.failedSwitches.Inc()
	}
	m.metrics.ObserveSwitch(ok)
}

// RetirePool stops new work from reaching h, waits for its in-flight
// statements to finish (or ctx to end) and closes it. The active pool cannot
// be retired. Retiring an already closed handle is a no-op.
func (m *Manager) RetirePool(ctx context.Context, h *PoolHandle) error {
	if h == nil {
		return errors.New("pool handle is nil")
	}
	if h.IsClosed() {
		return nil
	}

	m.mu.Lock()
	if m.active.Load() == h {
		m.mu.Unlock()
		return fmt.Errorf("retire pool %s: %w", h.Name, apperrors.ErrPoolActive)
	}
	h.retired.Store(true)
	m.mu.Unlock()

	if err := m.drain(ctx, h); err != nil {
		m.logger.Warn("pool still busy, retirement postponed",
			zap.String("pool", h.Name),
			zap.String("pool_id", h.ID.String()),
			zap.Int64("in_flight", h.InFlight()))
		return fmt.Errorf("drain pool %s: %w", h.Name, err)
	}

	return m.closeRetired(h)
}

// RetireByID retires the superseded handle with the given ID.
func (m *Manager) RetireByID(ctx context.Context, id string) error {
	if active := m.active.Load(); active != nil && active.ID.String() == id {
		return fmt.Errorf("retire pool %s: %w", active.Name, apperrors.ErrPoolActive)
	}
	for _, h := range m.Superseded() {
		if h.ID.String() == id {
			return m.RetirePool(ctx, h)
		}
	}
	return fmt.Errorf("pool %s: %w", id, apperrors.ErrNotFound)
}

func (m *Manager) drain(ctx context.Context, h *PoolHandle) error {
	if h.InFlight() == 0 {
		return nil
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.InFlight() == 0 {
				return nil
			}
		}
	}
}

func (m *Manager) closeRetired(h *PoolHandle) error {
	err := h.close()

	m.mu.Lock()
	m.removeSupersededLocked(h)
	active := m.active.Load()
	m.mu.Unlock()

	m.retiredCount.Inc()
	m.metrics.ObserveRetired()
	if active == nil || active.Name != h.Name {
		m.metrics.ForgetPool(h.Name)
	}

	if err != nil {
		m.logger.Warn("error closing retired pool",
			zap.String("pool", h.Name),
			zap.String("error", logging.SanitizeError(err)))
		return fmt.Errorf("close pool %s: %w", h.Name, err)
	}

	m.logger.Info("pool retired", zap.String("pool", h.Name), zap.String("pool_id", h.ID.String()))
	return nil
}

func (m *Manager) removeSupersededLocked(h *PoolHandle) {
	for i, s := range m.superseded {
		if s == h {
			m.superseded = append(m.superseded[:i], m.superseded[i+1:]...)
			return
		}
	}
}

func (m *Manager) retireInBackground(h *PoolHandle) {
	defer m.wg.Done()

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.RetireGrace)
		err := m.RetirePool(ctx, h)
		cancel()

		switch {
		case err == nil:
			return
		case m.ctx.Err() != nil:
			// Close drains and closes whatever is left.
			return
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("retired pool did not drain within grace period, retrying",
				zap.String("pool", h.Name),
				zap.String("pool_id", h.ID.String()),
				zap.Int64("in_flight", h.InFlight()),
				zap.Int("attempt", attempt))
		default:
			m.logger.Warn("immediate retirement did not complete",
				zap.String("pool", h.Name),
				zap.String("pool_id", h.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
			return
		}
	}
}

// Acquire returns the active handle with one in-flight use registered. The
// returned release func must be called exactly once when the work is done;
// extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context) (*PoolHandle, func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		h := m.active.Load()
		if h == nil {
			return nil, nil, apperrors.ErrNotBound
		}
		if !h.tryAcquire() {
			// Superseded and retired between the load and the acquire.
			continue
		}

		m.metrics.InFlightInc(h.Name)
		var once sync.Once
		release := func() {
			once.Do(func() {
				h.release()
				m.metrics.InFlightDec(h.Name)
			})
		}
		return h, release, nil
	}
}

// Current returns the active handle, if any.
func (m *Manager) Current() (*PoolHandle, bool) {
	h := m.active.Load()
	return h, h != nil
}

// State reports whether a pool is bound.
func (m *Manager) State() BindingState {
	if m.active.Load() == nil {
		return StateUnbound
	}
	return StateBound
}

// Superseded returns the handles replaced by a switch and not yet closed.
func (m *Manager) Superseded() []*PoolHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*PoolHandle, len(m.superseded))
	copy(out, m.superseded)
	return out
}

// EnsureInitialized prepares the statement builders and error translation
// the executor relies on. It is idempotent; with LazyInit it does nothing
// and preparation happens on the first statement instead.
func (m *Manager) EnsureInitialized() {
	if m.config.LazyInit {
		return
	}
	m.initOnce.Do(m.initialize)
}

// IsInitialized reports whether initialization has run.
func (m *Manager) IsInitialized() bool {
	return m.initialized.Load()
}

func (m *Manager) initialize() {
	m.translator = newErrorTranslator()
	m.builders = make(map[Dialect]goqu.DialectWrapper, len(dialectMarkers))
	for _, dm := range dialectMarkers {
		m.builders[dm.dialect] = goqu.Dialect(dm.dialect.GoquDialect())
	}
	m.initialized.Store(true)
	m.logger.Debug("executor initialized", zap.Bool("lazy", m.config.LazyInit))
}

func (m *Manager) errorTranslator() *errorTranslator {
	m.initOnce.Do(m.initialize)
	return m.translator
}

func (m *Manager) builder(d Dialect) goqu.DialectWrapper {
	m.initOnce.Do(m.initialize)
	if b, ok := m.builders[d]; ok {
		return b
	}
	return goqu.Dialect("default")
}

// Stats snapshots the manager.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		State:            m.State(),
		RetirementPolicy: m.config.RetirementPolicy,
		Switches:         m.switches.Load(),
		FailedSwitches:   m.failedSwitches.Load(),
		Retired:          m.retiredCount.Load(),
		Initialized:      m.initialized.Load(),
	}
	if h := m.active.Load(); h != nil {
		info := h.Info()
		stats.Active = &info
	}

	superseded := m.Superseded()
	stats.Superseded = make([]HandleInfo, 0, len(superseded))
	for _, h := range superseded {
		stats.Superseded = append(stats.Superseded, h.Info())
	}
	return stats
}

// Close stops the reaper and closes the active and every superseded pool,
// giving each up to RetireGrace to drain. Safe to call multiple times.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	handles := m.superseded
	m.superseded = nil
	if active := m.active.Swap(nil); active != nil {
		handles = append(handles, active)
	}
	for _, h := range handles {
		h.retired.Store(true)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.RetireGrace)
			defer cancel()
			if err := m.drain(ctx, h); err != nil {
				m.logger.Warn("closing pool with statements in flight",
					zap.String("pool", h.Name),
					zap.Int64("in_flight", h.InFlight()))
			}
			if err := h.close(); err != nil {
				return fmt.Errorf("close pool %s: %w", h.Name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	m.logger.Info("datasource manager closed", zap.Int("pools_closed", len(handles)))
	return err
}

func handleName(h *PoolHandle) string {
	if h == nil {
		return "<nil>"
	}
	return h.Name
}
