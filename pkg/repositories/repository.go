package repositories

import (
	"context"
)

// Repository is the data access contract shared by every entity type.
// Lookups of missing rows return apperrors.ErrNotFound.
type Repository[T any, ID comparable] interface {
	Save(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	FindByID(ctx context.Context, id ID) (*T, error)
	FindAll(ctx context.Context, page Page) ([]*T, error)
	FindOne(ctx context.Context, filters []SearchFilter) (*T, error)
	Delete(ctx context.Context, entity *T) error
	DeleteByID(ctx context.Context, id ID) error
	Exists(ctx context.Context, id ID) (bool, error)
	Count(ctx context.Context, filters []SearchFilter) (int64, error)
	Search(ctx context.Context, filters []SearchFilter, page Page) ([]*T, error)
}
