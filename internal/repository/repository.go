package repository

import (
	"context"

	"github.com/libdx/flask-microservices/internal/domain"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts user and fills in its ID, Active and CreatedDate.
	// A duplicate email yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	// GetByID returns apperrors.ErrNotFound when no user has id.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByEmail returns apperrors.ErrNotFound when no user has email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update writes username, email and password hash. A duplicate email
	// yields apperrors.ErrAlreadyExists.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes the user permanently.
	Delete(ctx context.Context, id int64) error

	// List returns every user ordered by id.
	List(ctx context.Context) ([]domain.User, error)
}
