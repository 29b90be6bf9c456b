package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/libdx/flask-microservices/pkg/errors"
	"github.com/libdx/flask-microservices/pkg/httputil"
	"github.com/libdx/flask-microservices/pkg/logger"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// Claims carries the identity extracted from a validated bearer token.
type Claims struct {
	UserID string
}

// TokenValidator validates a bearer token and returns its claims. Errors
// should be *apperrors.AppError values so they map to the right status.
type TokenValidator func(ctx context.Context, token string) (*Claims, error)

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The header must consist of exactly the scheme and one token.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// Auth rejects requests without a valid bearer token and stores the caller's
// user ID in the request context. A missing or malformed header is answered
// with 403, a rejected token with the validator's error.
func Auth(validate TokenValidator, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				httputil.WriteError(w, r, apperrors.MissingToken(), l)
				return
			}

			claims, err := validate(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, r, err, l)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			ctx = logger.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
