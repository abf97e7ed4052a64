package datasource

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/atomic"
)

// PoolHandle is a named, opened connection pool plus the bookkeeping the
// Manager needs to swap and retire it safely.
type PoolHandle struct {
	ID       uuid.UUID
	Name     string
	Dialect  Dialect
	Spec     PoolSpec
	OpenedAt time.Time

	connector    PoolConnector
	inFlight     *atomic.Int64
	retired      *atomic.Bool
	closed       *atomic.Bool
	supersededAt *atomic.Time
}

// NewPoolHandle wraps an opened connector. spec should already be resolved
// so Dialect is set.
func NewPoolHandle(spec PoolSpec, connector PoolConnector) *PoolHandle {
	spec.Password = ""
	return &PoolHandle{
		ID:           uuid.New(),
		Name:         spec.Name,
		Dialect:      spec.Dialect,
		Spec:         spec,
		OpenedAt:     time.Now(),
		connector:    connector,
		inFlight:     atomic.NewInt64(0),
		retired:      atomic.NewBool(false),
		closed:       atomic.NewBool(false),
		supersededAt: atomic.NewTime(time.Time{}),
	}
}

func (h *PoolHandle) Connector() PoolConnector {
	return h.connector
}

func (h *PoolHandle) DB() *sqlx.DB {
	return h.connector.DB()
}

// InFlight returns the number of statements currently running on the pool.
func (h *PoolHandle) InFlight() int64 {
	return h.inFlight.Load()
}

func (h *PoolHandle) IsRetired() bool {
	return h.retired.Load()
}

func (h *PoolHandle) IsClosed() bool {
	return h.closed.Load()
}

// tryAcquire registers one in-flight use. It fails once the handle is
// retired; the increment happens before the check so a concurrent retire
// either sees the use or the use sees the retire.
func (h *PoolHandle) tryAcquire() bool {
	h.inFlight.Inc()
	if h.retired.Load() {
		h.inFlight.Dec()
		return false
	}
	return true
}

func (h *PoolHandle) release() {
	h.inFlight.Dec()
}

// Close closes a handle that never became active, such as one the Manager
// rejected. Bound handles are closed through the Manager.
func (h *PoolHandle) Close() error {
	return h.close()
}

// close closes the connector exactly once.
func (h *PoolHandle) close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.connector.Close()
}

// HandleInfo is a point-in-time summary of a PoolHandle.
type HandleInfo struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Dialect      Dialect    `json:"dialect"`
	Type         string     `json:"type"`
	Target       string     `json:"target"`
	InFlight     int64      `json:"in_flight"`
	OpenedAt     time.Time  `json:"opened_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	Retired      bool       `json:"retired"`
	Closed       bool       `json:"closed"`
}

// Info snapshots the handle.
func (h *PoolHandle) Info() HandleInfo {
	info := HandleInfo{
		ID:       h.ID,
		Name:     h.Name,
		Dialect:  h.Dialect,
		Target:   h.Spec.Summary(),
		InFlight: h.InFlight(),
		OpenedAt: h.OpenedAt,
		Retired:  h.IsRetired(),
		Closed:   h.IsClosed(),
	}
	if h.connector != nil {
		info.Type = h.connector.GetType()
	}
	if at := h.supersededAt.Load(); !at.IsZero() {
		info.SupersededAt = &at
	}
	return info
}
