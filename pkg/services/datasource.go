package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/config"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
)

// DatasourceCatalog is the set of switchable datasources.
type DatasourceCatalog interface {
	Lookup(name string) (config.DatasourceDefinition, bool)
	Names() []string
}

// PoolSwitcher is the part of datasource.Manager the service drives.
type PoolSwitcher interface {
	SwitchPool(newPool *datasource.PoolHandle) bool
	Current() (*datasource.PoolHandle, bool)
	RetireByID(ctx context.Context, id string) error
	Stats() datasource.ManagerStats
}

// CacheInvalidator empties the entity caches after a switch.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// DatasourceInfo describes a catalog entry.
type DatasourceInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Dialect     datasource.Dialect `json:"dialect,omitempty"`
	Target      string             `json:"target"`
	Active      bool               `json:"active"`
	Error       string             `json:"error,omitempty"`
}

// SwitchResult reports the outcome of a switch. A failed switch is a
// result with Success false, not an error.
type SwitchResult struct {
	Success          bool   `json:"success"`
	Name             string `json:"name"`
	PoolID           string `json:"pool_id,omitempty"`
	Previous         string `json:"previous,omitempty"`
	CacheInvalidated bool   `json:"cache_invalidated"`
	Message          string `json:"message,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

// DatasourceService defines the interface for datasource switching.
type DatasourceService interface {
	// List returns every catalog entry, marking the bound one.
	List(ctx context.Context) []DatasourceInfo

	// Current returns the bound pool, or apperrors.ErrNotBound.
	Current(ctx context.Context) (*datasource.HandleInfo, error)

	// Switch opens the named datasource and makes it the active pool.
	// Unknown names fail with apperrors.ErrUnknownDatasource.
	Switch(ctx context.Context, name string) (*SwitchResult, error)

	// Retire closes a superseded pool once its statements finish.
	Retire(ctx context.Context, id string) error

	// Stats snapshots the manager.
	Stats(ctx context.Context) datasource.ManagerStats

	// TestConnection opens and pings the named datasource without binding it.
	TestConnection(ctx context.Context, name string) error

	// ListTypes returns the dialects that have a driver compiled in.
	ListTypes(ctx context.Context) []datasource.DatasourceAdapterInfo

	// Start binds the initial datasource, if one is given.
	Start(ctx context.Context, initial string) error
}

// datasourceService implements DatasourceService.
type datasourceService struct {
	catalog       DatasourceCatalog
	opener        datasource.PoolOpener
	switcher      PoolSwitcher
	invalidator   CacheInvalidator
	switchTimeout time.Duration
	logger        *zap.Logger

	switches singleflight.Group
}

// NewDatasourceService creates a new datasource service with dependencies.
func NewDatasourceService(
	catalog DatasourceCatalog,
	opener datasource.PoolOpener,
	switcher PoolSwitcher,
	invalidator CacheInvalidator,
	switchTimeout time.Duration,
	logger *zap.Logger,
) DatasourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &datasourceService{
		catalog:       catalog,
		opener:        opener,
		switcher:      switcher,
		invalidator:   invalidator,
		switchTimeout: switchTimeout,
		logger:        logger,
	}
}

func (s *datasourceService) List(ctx context.Context) []DatasourceInfo {
	var activeName string
	if h, ok := s.switcher.Current(); ok {
		activeName = h.Name
	}

	names := s.catalog.Names()
	out := make([]DatasourceInfo, 0, len(names))
	for _, name := range names {
		def, _ := s.catalog.Lookup(name)
		info := DatasourceInfo{
			Name:        name,
			Description: def.Description,
			Active:      name == activeName,
		}
		spec, err := SpecFromDefinition(def).Resolve()
		if err != nil {
			info.Error = logging.SanitizeError(err)
		} else {
			info.Dialect = spec.Dialect
			info.Target = spec.Summary()
		}
		out = append(out, info)
	}
	return out
}

func (s *datasourceService) Current(ctx context.Context) (*datasource.HandleInfo, error) {
	h, ok := s.switcher.Current()
	if !ok {
		return nil, apperrors.ErrNotBound
	}
	info := h.Info()
	return &info, nil
}

// Switch opens the pool, hands it to the manager and, on success, empties
// the caches. Concurrent switches to the same name share one attempt.
func (s *datasourceService) Switch(ctx context.Context, name string) (*SwitchResult, error) {
	def, ok := s.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("datasource %q: %w", name, apperrors.ErrUnknownDatasource)
	}

	// The shared attempt outlives any one caller's cancellation.
	v, err, shared := s.switches.Do(name, func() (any, error) {
		return s.doSwitch(context.WithoutCancel(ctx), def), nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-progress switch", zap.String("name", name))
	}
	return v.(*SwitchResult), nil
}

func (s *datasourceService) doSwitch(ctx context.Context, def config.DatasourceDefinition) *SwitchResult {
	start := time.Now()
	result := &SwitchResult{Name: def.Name}
	defer func() { result.DurationMs = time.Since(start).Milliseconds() }()

	if prev, ok := s.switcher.Current(); ok {
		result.Previous = prev.Name
	}

	openCtx := ctx
	if s.switchTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, s.switchTimeout)
		defer cancel()
	}

	h, err := s.opener.Open(openCtx, SpecFromDefinition(def))
	if err != nil {
		result.Message = logging.SanitizeError(err)
		s.logger.Error("Failed to open datasource",
			zap.String("name", def.Name),
			zap.String("error", result.Message))
		return result
	}

	if !s.switcher.SwitchPool(h) {
		if err := h.Close(); err != nil {
			s.logger.Warn("Failed to close rejected pool",
				zap.String("name", def.Name),
				zap.String("error", logging.SanitizeError(err)))
		}
		result.Message = "datasource rejected the switch; previous binding kept"
		return result
	}

	result.Success = true
	result.PoolID = h.ID.String()

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			result.Message = "switched, but cache invalidation failed: " + logging.SanitizeError(err)
			s.logger.Warn("Cache invalidation after switch failed",
				zap.String("name", def.Name),
				zap.Error(err))
			return result
		}
	}
	result.CacheInvalidated = true

	s.logger.Info("Switched datasource",
		zap.String("name", def.Name),
		zap.String("previous", result.Previous),
		zap.String("pool_id", result.PoolID))
	return result
}

func (s *datasourceService) Retire(ctx context.Context, id string) error {
	if err := s.switcher.RetireByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Retired pool", zap.String("pool_id", id))
	return nil
}

func (s *datasourceService) Stats(ctx context.Context) datasource.ManagerStats {
	return s.switcher.Stats()
}

func (s *datasourceService) TestConnection(ctx context.Context, name string) error {
	def, ok := s.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("datasource %q: %w", name, apperrors.ErrUnknownDatasource)
	}
	return s.opener.TestConnection(ctx, SpecFromDefinition(def))
}

func (s *datasourceService) ListTypes(ctx context.Context) []datasource.DatasourceAdapterInfo {
	return s.opener.ListTypes()
}

func (s *datasourceService) Start(ctx context.Context, initial string) error {
	if initial == "" {
		s.logger.Info("No initial datasource configured; starting unbound")
		return nil
	}

	result, err := s.Switch(ctx, initial)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("failed to bind initial datasource %q: %s", initial, result.Message)
	}
	return nil
}

// SpecFromDefinition converts a catalog entry into a pool spec.
func SpecFromDefinition(def config.DatasourceDefinition) datasource.PoolSpec {
	return datasource.PoolSpec{
		Name:     def.Name,
		URL:      def.URL,
		Dialect:  datasource.Dialect(def.Dialect),
		Host:     def.Host,
		Port:     def.Port,
		User:     def.User,
		Password: def.Password,
		Database: def.Database,
		SSLMode:  def.SSLMode,
		Params:   def.Params,
		MaxConns: def.MaxConns,
		MinConns: def.MinConns,
	}
}

var _ DatasourceService = (*datasourceService)(nil)
