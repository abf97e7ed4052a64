package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/repositories"
)

// CRUDService is the generic service every entity service builds on.
type CRUDService[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (*T, error)
	List(ctx context.Context, page repositories.Page) ([]*T, error)
	Search(ctx context.Context, filters []repositories.SearchFilter, page repositories.Page) ([]*T, error)
	Count(ctx context.Context, filters []repositories.SearchFilter) (int64, error)
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id ID) error
}

// crudService implements CRUDService over any repository.
type crudService[T any, ID comparable] struct {
	repo   repositories.Repository[T, ID]
	name   string
	logger *zap.Logger
}

// NewCRUDService creates a CRUD service. name is the entity name used in
// logs and error messages.
func NewCRUDService[T any, ID comparable](repo repositories.Repository[T, ID], name string, logger *zap.Logger) CRUDService[T, ID] {
	return newCRUDService(repo, name, logger)
}

func newCRUDService[T any, ID comparable](repo repositories.Repository[T, ID], name string, logger *zap.Logger) *crudService[T, ID] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &crudService[T, ID]{
		repo:   repo,
		name:   name,
		logger: logger,
	}
}

func (s *crudService[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *crudService[T, ID]) List(ctx context.Context, page repositories.Page) ([]*T, error) {
	return s.repo.FindAll(ctx, page)
}

func (s *crudService[T, ID]) Search(ctx context.Context, filters []repositories.SearchFilter, page repositories.Page) ([]*T, error) {
	return s.repo.Search(ctx, filters, page)
}

func (s *crudService[T, ID]) Count(ctx context.Context, filters []repositories.SearchFilter) (int64, error) {
	return s.repo.Count(ctx, filters)
}

func (s *crudService[T, ID]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("%s is required: %w", s.name, apperrors.ErrInvalidInput)
	}
	if err := s.repo.Save(ctx, entity); err != nil {
		return err
	}
	s.logger.Info("Created "+s.name, zap.Any("id", idOf[T, ID](entity)))
	return nil
}

func (s *crudService[T, ID]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("%s is required: %w", s.name, apperrors.ErrInvalidInput)
	}
	if err := s.repo.Update(ctx, entity); err != nil {
		return err
	}
	s.logger.Info("Updated "+s.name, zap.Any("id", idOf[T, ID](entity)))
	return nil
}

func (s *crudService[T, ID]) Delete(ctx context.Context, id ID) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted "+s.name, zap.Any("id", id))
	return nil
}

func idOf[T any, ID comparable](entity *T) any {
	if e, ok := any(entity).(interface{ GetID() ID }); ok {
		return e.GetID()
	}
	return nil
}
