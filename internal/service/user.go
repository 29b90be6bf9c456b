package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/domain"
	"github.com/libdx/flask-microservices/internal/event"
	"github.com/libdx/flask-microservices/internal/repository"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
)

// UserService implements user CRUD.
type UserService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	events event.Publisher
	logger *slog.Logger
}

// NewUserService creates a user service.
func NewUserService(
	users repository.UserRepository,
	hasher PasswordHasher,
	events event.Publisher,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		hasher: hasher,
		events: events,
		logger: logger,
	}
}

// CreateUserInput holds the parameters for creating a user. Without a
// password the account gets an unknown random one and cannot log in until
// a password is set by Update.
type CreateUserInput struct {
	Username string
	Email    string
	Password *string
}

// Create adds a user.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, apperrors.AlreadyExists("User", "email", input.Email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	password := ""
	if input.Password != nil {
		password = *input.Password
	} else {
		secret, err := auth.RandomSecret()
		if err != nil {
			return nil, err
		}
		password = secret
	}

	digest, err := hashPassword(s.hasher, password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: digest,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, apperrors.AlreadyExists("User", "email", input.Email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.events.UserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user created",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Get returns the user with id.
func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// List returns all users in insertion order.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update replaces username and email of user id, and its password when
// changes.Password is set.
func (s *UserService) Update(ctx context.Context, id int64, changes domain.UserChanges) (*domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if changes.Email != user.Email {
		other, err := s.users.GetByEmail(ctx, changes.Email)
		switch {
		case err == nil && other.ID != user.ID:
			return nil, apperrors.EmailTaken()
		case err != nil && !errors.Is(err, apperrors.ErrNotFound):
			return nil, fmt.Errorf("lookup user by email: %w", err)
		}
	}

	user.Username = changes.Username
	user.Email = changes.Email
	if changes.Password != nil {
		digest, err := hashPassword(s.hasher, *changes.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = digest
	}

	if err := s.users.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAlreadyExists):
			return nil, apperrors.EmailTaken()
		case errors.Is(err, apperrors.ErrNotFound):
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := s.events.UserUpdated(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.updated event",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user updated", slog.Int64("user_id", user.ID))
	return user, nil
}

// Delete removes user id and returns the deleted record.
func (s *UserService) Delete(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("delete user: %w", err)
	}

	if err := s.events.UserDeleted(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.Int64("user_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user deleted", slog.Int64("user_id", id))
	return user, nil
}

func notFound(id int64) *apperrors.AppError {
	return apperrors.NotFound("User", strconv.FormatInt(id, 10))
}
