package datasource

import (
	"context"
	"sort"
	"sync"
)

// DatasourceAdapterInfo describes a compiled-in pool factory.
type DatasourceAdapterInfo struct {
	Dialect     Dialect `json:"dialect"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description"`
}

// PoolFactory opens a pool for a resolved spec.
type PoolFactory func(ctx context.Context, spec PoolSpec) (PoolConnector, error)

// DatasourceAdapterRegistration pairs adapter info with its pool factory.
type DatasourceAdapterRegistration struct {
	Info    DatasourceAdapterInfo
	Factory PoolFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Dialect]DatasourceAdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DatasourceAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Dialect] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by dialect.
func RegisteredAdapters() []DatasourceAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DatasourceAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Dialect < result[j].Dialect })
	return result
}

// GetFactory returns the pool factory for a dialect, or nil if no adapter
// for it is compiled in.
func GetFactory(dialect Dialect) PoolFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dialect]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an adapter for the dialect is available.
func IsRegistered(dialect Dialect) bool {
	return GetFactory(dialect) != nil
}
