package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/libdx/flask-microservices/internal/auth"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
)

// PasswordHasher hashes and verifies passwords. *auth.PasswordHasher
// implements it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(digest, plaintext string) bool
}

// TokenCodec issues and verifies signed tokens. *auth.TokenCodec implements it.
type TokenCodec interface {
	Encode(userID int64, kind auth.Kind) (string, error)
	Decode(token string) (*auth.Claims, error)
}

var (
	_ PasswordHasher = (*auth.PasswordHasher)(nil)
	_ TokenCodec     = (*auth.TokenCodec)(nil)
)

// hashPassword hashes plaintext, reporting input bcrypt refuses as a
// validation failure.
func hashPassword(h PasswordHasher, plaintext string) (string, error) {
	digest, err := h.Hash(plaintext)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperrors.ValidationFailed()
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return digest, nil
}
