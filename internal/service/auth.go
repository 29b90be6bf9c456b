package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/domain"
	"github.com/libdx/flask-microservices/internal/event"
	"github.com/libdx/flask-microservices/internal/repository"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
	"github.com/libdx/flask-microservices/pkg/middleware"
)

// AuthConfig holds auth policy switches.
type AuthConfig struct {
	// EnforceTokenKind rejects access tokens presented for refresh and
	// refresh tokens presented for status.
	EnforceTokenKind bool
}

// AuthService implements registration, login, token refresh and status.
type AuthService struct {
	users   repository.UserRepository
	hasher  PasswordHasher
	tokens  TokenCodec
	events  event.Publisher
	metrics *AuthMetrics
	cfg     AuthConfig
	logger  *slog.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthService creates an auth service. metrics may be nil.
func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens TokenCodec,
	events event.Publisher,
	metrics *AuthMetrics,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// Register creates a new account and returns it.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (_ *domain.User, err error) {
	defer func() { s.metrics.observe(OpRegister, err) }()

	existing, err := s.users.GetByEmail(ctx, input.Email)
	switch {
	case err == nil && existing != nil:
		return nil, apperrors.AlreadyExists("User", "email", input.Email)
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	digest, err := hashPassword(s.hasher, input.Password)
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

	s.logger.InfoContext(ctx, "user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown accounts and
// wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (_ *domain.TokenPair, err error) {
	defer func() { s.metrics.observe(OpLogin, err) }()

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("lookup user by email: %w", err)
		}
		// Spend the same bcrypt work as a real comparison.
		s.hasher.Verify(s.dummyHash(), input.Password)
		return nil, apperrors.InvalidCredentials()
	}

	if !s.hasher.Verify(user.PasswordHash, input.Password) {
		return nil, apperrors.InvalidCredentials()
	}

	pair, err := s.issuePair(user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.Int64("user_id", user.ID))
	return pair, nil
}

// Refresh exchanges a refresh token for a fresh token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *domain.TokenPair, err error) {
	defer func() { s.metrics.observe(OpRefresh, err) }()

	user, err := s.userFromToken(ctx, refreshToken, auth.KindRefresh)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tokens refreshed", slog.Int64("user_id", user.ID))
	return pair, nil
}

// Status returns the user identified by an "Authorization: Bearer <token>"
// header value.
func (s *AuthService) Status(ctx context.Context, authorization string) (_ *domain.User, err error) {
	defer func() { s.metrics.observe(OpStatus, err) }()

	token, ok := middleware.BearerToken(authorization)
	if !ok {
		return nil, apperrors.MissingToken()
	}
	return s.userFromToken(ctx, token, auth.KindAccess)
}

// ValidateAccessToken checks an access token and returns the caller's
// identity. It satisfies middleware.TokenValidator.
func (s *AuthService) ValidateAccessToken(_ context.Context, token string) (*middleware.Claims, error) {
	claims, err := s.decode(token, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{UserID: strconv.FormatInt(claims.UserID, 10)}, nil
}

func (s *AuthService) userFromToken(ctx context.Context, token string, kind auth.Kind) (*domain.User, error) {
	claims, err := s.decode(token, kind)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidToken()
		}
		return nil, fmt.Errorf("get user %d: %w", claims.UserID, err)
	}
	return user, nil
}

// decode maps codec failures onto the error taxonomy and applies the
// token kind policy.
func (s *AuthService) decode(token string, want auth.Kind) (*auth.Claims, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken()
	}
	if s.cfg.EnforceTokenKind && claims.Kind != want {
		return nil, apperrors.InvalidToken()
	}
	return claims, nil
}

func (s *AuthService) issuePair(userID int64) (*domain.TokenPair, error) {
	access, err := s.tokens.Encode(userID, auth.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("encode access token: %w", err)
	}
	refresh, err := s.tokens.Encode(userID, auth.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("encode refresh token: %w", err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// dummyHash returns a digest used to equalize login timing for unknown
// emails. A hashing failure leaves it empty, which Verify rejects quickly.
func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("not-a-real-password")
		if err != nil {
			s.logger.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}
