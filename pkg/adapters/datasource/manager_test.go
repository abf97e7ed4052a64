package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

func newTestManager(t *testing.T, mutate func(*ManagerConfig)) (*Manager, *Executor) {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.SwitchTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zaptest.NewLogger(t)
	m := NewManager(cfg, logger, nil)
	t.Cleanup(func() { m.Close() })
	return m, NewExecutor(m, logger, nil)
}

func TestManager_UnboundRefusesQueries(t *testing.T) {
	m, exec := newTestManager(t, nil)

	assert.Equal(t, StateUnbound, m.State())

	_, _, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotBound)

	var marker string
	err = exec.GetContext(context.Background(), &marker, "SELECT marker")
	assert.ErrorIs(t, err, apperrors.ErrNotBound)
}

func TestManager_SwitchRoutesSubsequentQueries(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")

	require.True(t, m.SwitchPool(poolA))
	assert.Equal(t, StateBound, m.State())
	assert.Equal(t, "pool-a", currentMarker(t, exec))

	require.True(t, m.SwitchPool(poolB))
	assert.Equal(t, "pool-b", currentMarker(t, exec))

	current, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, poolB, current)

	// The previous pool is superseded, not closed.
	assert.Equal(t, []*PoolHandle{poolA}, m.Superseded())
	assert.False(t, connA.closed())
}

func TestManager_SwitchToSamePoolIsNoop(t *testing.T) {
	m, _ := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")

	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolA))

	assert.Empty(t, m.Superseded())
	assert.Equal(t, int64(2), m.Stats().Switches)
}

func TestManager_SwitchBackReinstatesSupersededPool(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")

	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))
	require.True(t, m.SwitchPool(poolA))

	assert.Equal(t, "pool-a", currentMarker(t, exec))
	assert.Equal(t, []*PoolHandle{poolB}, m.Superseded())
	assert.Nil(t, poolA.Info().SupersededAt)
}

func TestManager_FailedSwitchKeepsPriorState(t *testing.T) {
	t.Run("unbound stays unbound", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		broken, conn := newFakeHandle(t, "broken")
		conn.pingErr = errors.New("dial tcp: connection refused")

		assert.False(t, m.SwitchPool(broken))
		assert.Equal(t, StateUnbound, m.State())
		assert.Equal(t, int64(1), m.Stats().FailedSwitches)
	})

	t.Run("bound keeps previous pool", func(t *testing.T) {
		m, exec := newTestManager(t, nil)
		poolA, _ := newFakeHandle(t, "pool-a")
		broken, conn := newFakeHandle(t, "broken")
		conn.pingErr = errors.New("password authentication failed for user \"cyfm\"")

		require.True(t, m.SwitchPool(poolA))
		assert.False(t, m.SwitchPool(broken))

		assert.Equal(t, "pool-a", currentMarker(t, exec))
		assert.Empty(t, m.Superseded())
	})

	t.Run("nil handle", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		assert.False(t, m.SwitchPool(nil))
	})

	t.Run("unknown dialect", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		h, _ := newFakeHandle(t, "db2")
		h.Dialect = "db2"
		assert.False(t, m.SwitchPool(h))
	})
}

func TestManager_SwitchRecoversConnectorPanic(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")
	exploding, conn := newFakeHandle(t, "exploding")
	conn.pingPanic = true

	require.True(t, m.SwitchPool(poolA))

	var ok bool
	require.NotPanics(t, func() { ok = m.SwitchPool(exploding) })
	assert.False(t, ok)
	assert.Equal(t, "pool-a", currentMarker(t, exec))
}

func TestManager_SkipsPingWhenValidationDisabled(t *testing.T) {
	m, _ := newTestManager(t, func(c *ManagerConfig) { c.ValidateOnSwitch = false })
	h, conn := newFakeHandle(t, "unvalidated")
	conn.pingErr = errors.New("would fail")

	assert.True(t, m.SwitchPool(h))
}

func TestManager_InFlightWorkFinishesOnOldPool(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))

	started := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan string, 1)

	go func() {
		_ = exec.WithHandle(context.Background(), func(ctx context.Context, h *PoolHandle) error {
			close(started)
			<-proceed
			var marker string
			err := h.DB().GetContext(ctx, &marker, "SELECT marker")
			done <- marker
			return err
		})
	}()

	<-started
	require.True(t, m.SwitchPool(poolB))
	assert.Equal(t, int64(1), poolA.InFlight())
	assert.Equal(t, "pool-b", currentMarker(t, exec))

	close(proceed)
	assert.Equal(t, "pool-a", <-done)
	assert.Eventually(t, func() bool { return poolA.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_RetirePoolWaitsForDrain(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))

	started := make(chan struct{})
	proceed := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = exec.WithHandle(context.Background(), func(ctx context.Context, h *PoolHandle) error {
			close(started)
			<-proceed
			return nil
		})
	}()
	<-started

	require.True(t, m.SwitchPool(poolB))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.RetirePool(ctx, poolA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, poolA.IsRetired())
	assert.False(t, connA.closed())

	close(proceed)
	<-finished

	require.NoError(t, m.RetirePool(context.Background(), poolA))
	assert.True(t, connA.closed())
	assert.Empty(t, m.Superseded())
	assert.Equal(t, int64(1), m.Stats().Retired)

	// Idempotent once closed.
	require.NoError(t, m.RetirePool(context.Background(), poolA))
	assert.Equal(t, int32(1), connA.closeCount.Load())
}

func TestManager_RetireActivePoolRefused(t *testing.T) {
	m, _ := newTestManager(t, nil)
	poolA, connA := newFakeHandle(t, "pool-a")
	require.True(t, m.SwitchPool(poolA))

	err := m.RetirePool(context.Background(), poolA)
	assert.ErrorIs(t, err, apperrors.ErrPoolActive)
	assert.False(t, poolA.IsRetired())
	assert.False(t, connA.closed())

	err = m.RetireByID(context.Background(), poolA.ID.String())
	assert.ErrorIs(t, err, apperrors.ErrPoolActive)
}

func TestManager_RetireByID(t *testing.T) {
	m, _ := newTestManager(t, nil)
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))

	require.NoError(t, m.RetireByID(context.Background(), poolA.ID.String()))
	assert.True(t, connA.closed())

	err := m.RetireByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_SwitchToRetiredPoolRefused(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))
	require.NoError(t, m.RetirePool(context.Background(), poolA))

	assert.False(t, m.SwitchPool(poolA))
	assert.Equal(t, "pool-b", currentMarker(t, exec))
}

func TestManager_ImmediatePolicyRetiresPreviousPool(t *testing.T) {
	m, _ := newTestManager(t, func(c *ManagerConfig) { c.RetirementPolicy = RetireImmediate })
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, connB := newFakeHandle(t, "pool-b")

	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))

	assert.Eventually(t, connA.closed, time.Second, 5*time.Millisecond)
	assert.False(t, connB.closed())
}

func TestManager_ImmediatePolicyRetriesBusyPool(t *testing.T) {
	m, _ := newTestManager(t, func(c *ManagerConfig) {
		c.RetirementPolicy = RetireImmediate
		c.RetireGrace = 20 * time.Millisecond
	})
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")

	require.True(t, m.SwitchPool(poolA))
	_, release, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, m.SwitchPool(poolB))

	// Several grace periods pass with the statement still running.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, connA.closed())
	assert.True(t, poolA.IsRetired())

	release()
	assert.Eventually(t, connA.closed, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(m.Superseded()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_DeferredPolicyReapsAfterGrace(t *testing.T) {
	m, _ := newTestManager(t, func(c *ManagerConfig) {
		c.RetirementPolicy = RetireDeferred
		c.RetireGrace = 30 * time.Millisecond
		c.ReapInterval = 10 * time.Millisecond
	})
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")

	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))
	assert.False(t, connA.closed())

	assert.Eventually(t, connA.closed, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Superseded())
}

func TestManager_ReapSupersededSkipsYoungPools(t *testing.T) {
	m, _ := newTestManager(t, func(c *ManagerConfig) { c.RetireGrace = time.Hour })
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))

	m.reapSuperseded(time.Now())
	assert.False(t, connA.closed())

	m.reapSuperseded(time.Now().Add(2 * time.Hour))
	assert.True(t, connA.closed())
}

func TestManager_EnsureInitialized(t *testing.T) {
	t.Run("eager", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		assert.False(t, m.IsInitialized())

		m.EnsureInitialized()
		m.EnsureInitialized()
		assert.True(t, m.IsInitialized())
		assert.True(t, m.Stats().Initialized)
	})

	t.Run("lazy defers to first statement", func(t *testing.T) {
		m, exec := newTestManager(t, func(c *ManagerConfig) { c.LazyInit = true })
		poolA, _ := newFakeHandle(t, "pool-a")
		require.True(t, m.SwitchPool(poolA))

		m.EnsureInitialized()
		assert.False(t, m.IsInitialized())

		currentMarker(t, exec)
		assert.True(t, m.IsInitialized())
	})
}

func TestManager_ConcurrentSwitchesAndQueries(t *testing.T) {
	m, exec := newTestManager(t, nil)

	handles := make([]*PoolHandle, 3)
	valid := make(map[string]bool)
	for i, name := range []string{"pool-a", "pool-b", "pool-c"} {
		handles[i], _ = newFakeHandle(t, name)
		valid[name] = true
	}
	require.True(t, m.SwitchPool(handles[0]))

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				var marker string
				if err := exec.GetContext(context.Background(), &marker, "SELECT marker"); err != nil {
					errs <- err
					return
				}
				if !valid[marker] {
					errs <- errors.New("unexpected marker " + marker)
					return
				}
			}
		}()
	}

	for s := 0; s < 2; s++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if !m.SwitchPool(handles[(i+offset)%len(handles)]) {
					errs <- errors.New("switch failed")
					return
				}
			}
		}(s)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// Every handle is either active or superseded, never lost.
	current, ok := m.Current()
	require.True(t, ok)
	tracked := append(m.Superseded(), current)
	assert.ElementsMatch(t, handles, tracked)
	for _, h := range handles {
		assert.Equal(t, int64(0), h.InFlight())
	}
}

func TestManager_CloseClosesEverything(t *testing.T) {
	m, exec := newTestManager(t, nil)
	poolA, connA := newFakeHandle(t, "pool-a")
	poolB, connB := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))

	require.NoError(t, m.Close())
	assert.True(t, connA.closed())
	assert.True(t, connB.closed())
	assert.Equal(t, StateUnbound, m.State())

	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), connB.closeCount.Load())

	fresh, _ := newFakeHandle(t, "pool-c")
	assert.False(t, m.SwitchPool(fresh))

	var marker string
	assert.ErrorIs(t, exec.GetContext(context.Background(), &marker, "SELECT marker"), apperrors.ErrNotBound)
}

func TestManager_SwitchDuringCloseIsRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)
	pool, conn := newFakeHandle(t, "pool-a")
	conn.pinged = make(chan struct{})
	conn.pingGate = make(chan struct{})

	result := make(chan bool, 1)
	go func() { result <- m.SwitchPool(pool) }()

	<-conn.pinged
	require.NoError(t, m.Close())
	close(conn.pingGate)

	assert.False(t, <-result)
	assert.Equal(t, StateUnbound, m.State())
	_, ok := m.Current()
	assert.False(t, ok)
	assert.Empty(t, m.Superseded())
	assert.Equal(t, int64(1), m.Stats().FailedSwitches)
}

func TestManager_Stats(t *testing.T) {
	m, _ := newTestManager(t, nil)
	poolA, _ := newFakeHandle(t, "pool-a")
	poolB, _ := newFakeHandle(t, "pool-b")
	require.True(t, m.SwitchPool(poolA))
	require.True(t, m.SwitchPool(poolB))

	stats := m.Stats()
	assert.Equal(t, StateBound, stats.State)
	assert.Equal(t, RetireManual, stats.RetirementPolicy)
	require.NotNil(t, stats.Active)
	assert.Equal(t, "pool-b", stats.Active.Name)
	assert.Equal(t, "fake", stats.Active.Type)
	require.Len(t, stats.Superseded, 1)
	assert.Equal(t, poolA.ID, stats.Superseded[0].ID)
	assert.NotNil(t, stats.Superseded[0].SupersededAt)
	assert.Equal(t, int64(2), stats.Switches)
}
