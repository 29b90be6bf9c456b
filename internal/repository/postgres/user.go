package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/libdx/flask-microservices/internal/domain"
	"github.com/libdx/flask-microservices/pkg/database"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
)

const userColumns = `id, username, email, password, active, created_date`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a PostgreSQL-backed user repository. db is
// usually a *pgxpool.Pool.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (username, email, password)
		VALUES ($1, $2, $3)
		RETURNING id, active, created_date`

	ctx, done := database.TraceQuery(ctx, database.Query{Table: "users", Operation: "INSERT", Statement: query})
	defer func() { done(err) }()

	err = r.db.QueryRow(ctx, query, u.Username, u.Email, u.PasswordHash).
		Scan(&u.ID, &u.Active, &u.CreatedDate)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("User", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, query, email)
}

// Update overwrites username, email and password of an existing user.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) (err error) {
	query := `
		UPDATE users
		SET username = $1, email = $2, password = $3
		WHERE id = $4`

	ctx, done := database.TraceQuery(ctx, database.Query{Table: "users", Operation: "UPDATE", Statement: query})
	defer func() { done(err) }()

	ct, err := r.db.Exec(ctx, query, u.Username, u.Email, u.PasswordHash, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("User", "email", u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("User", strconv.FormatInt(u.ID, 10))
	}

	return nil
}

// Delete removes a user by id.
func (r *UserRepository) Delete(ctx context.Context, id int64) (err error) {
	query := `DELETE FROM users WHERE id = $1`

	ctx, done := database.TraceQuery(ctx, database.Query{Table: "users", Operation: "DELETE", Statement: query})
	defer func() { done(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("User", strconv.FormatInt(id, 10))
	}

	return nil
}

// List returns all users in insertion order.
func (r *UserRepository) List(ctx context.Context) (_ []domain.User, err error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`

	ctx, done := database.TraceQuery(ctx, database.Query{Table: "users", Operation: "SELECT", Statement: query})
	defer func() { done(err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

// scanUser executes a query expected to return at most one user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (_ *domain.User, err error) {
	ctx, done := database.TraceQuery(ctx, database.Query{Table: "users", Operation: "SELECT", Statement: query})
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			done(nil)
			return
		}
		done(err)
	}()

	var u domain.User
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Active,
		&u.CreatedDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
