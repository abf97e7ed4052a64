package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/models"
	"github.com/ppcxy/cyfm-engine/pkg/repositories"
)

// UserService defines the interface for user operations.
type UserService interface {
	CRUDService[models.User, int64]
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// userService implements UserService.
type userService struct {
	*crudService[models.User, int64]
	userRepo repositories.UserRepository
}

// NewUserService creates a new user service with dependencies.
func NewUserService(userRepo repositories.UserRepository, logger *zap.Logger) UserService {
	return &userService{
		crudService: newCRUDService[models.User, int64](userRepo, "user", logger),
		userRepo:    userRepo,
	}
}

func (s *userService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", apperrors.ErrInvalidInput)
	}
	return s.userRepo.FindByUsername(ctx, username)
}

// Create validates the user and rejects a username already taken.
func (s *userService) Create(ctx context.Context, user *models.User) error {
	if err := s.validate(ctx, user); err != nil {
		return err
	}
	return s.crudService.Create(ctx, user)
}

// Update validates the user; the username may only be kept or changed to
// one not used by another user.
func (s *userService) Update(ctx context.Context, user *models.User) error {
	if err := s.validate(ctx, user); err != nil {
		return err
	}
	return s.crudService.Update(ctx, user)
}

func (s *userService) validate(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required: %w", apperrors.ErrInvalidInput)
	}

	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		return fmt.Errorf("username is required: %w", apperrors.ErrInvalidInput)
	}
	if user.Status == "" {
		user.Status = models.UserStatusNormal
	}
	if !models.IsValidUserStatus(user.Status) {
		return fmt.Errorf("invalid status %q: %w", user.Status, apperrors.ErrInvalidInput)
	}
	if user.Email != "" {
		if _, err := mail.ParseAddress(user.Email); err != nil {
			return fmt.Errorf("invalid email %q: %w", user.Email, apperrors.ErrInvalidInput)
		}
	}

	existing, err := s.userRepo.FindByUsername(ctx, user.Username)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check username: %w", err)
	case existing.ID != user.ID:
		return fmt.Errorf("username %q already exists: %w", user.Username, apperrors.ErrConflict)
	}
	return nil
}

var _ UserService = (*userService)(nil)
