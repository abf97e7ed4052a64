package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/cache"
	"github.com/ppcxy/cyfm-engine/pkg/models"
)

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Repository[models.User, int64]
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

type userRepository struct {
	*SQLRepository[models.User, int64, *models.User]
}

// NewUserRepository creates a user repository over cy_sys_user.
func NewUserRepository(exec datasource.QueryExecutor, opts ...Option) UserRepository {
	return &userRepository{
		SQLRepository: NewSQLRepository[models.User, int64](exec, opts...),
	}
}

// FindByUsername resolves the username through the natural-id region before
// querying. A cached id whose row no longer carries the username is dropped.
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	active, _ := r.exec.Current()
	key := naturalIDKey(active, username)

	if r.l2 != nil {
		var id int64
		hit, err := r.l2.Get(ctx, cache.RegionNaturalID, key, &id)
		r.metrics.ObserveCacheLookup("l2", hit && err == nil)
		if err == nil && hit {
			u, err := r.FindByID(ctx, id)
			switch {
			case err == nil && u.Username == username:
				return u, nil
			case err != nil && !errors.Is(err, apperrors.ErrNotFound):
				return nil, err
			}
			if err := r.l2.Evict(ctx, cache.RegionNaturalID, key); err != nil {
				r.logger.Warn("natural id evict failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	u, err := r.FindOne(ctx, []SearchFilter{{Field: "username", Operator: OpEQ, Value: username}})
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}

	if r.l2 != nil && r.stillActive(active) {
		if err := r.l2.Put(ctx, cache.RegionNaturalID, key, u.ID); err != nil {
			r.logger.Warn("natural id cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
	return u, nil
}

func naturalIDKey(h *datasource.PoolHandle, username string) string {
	return "User.username@" + poolScope(h) + "#" + username
}

var _ UserRepository = (*userRepository)(nil)
