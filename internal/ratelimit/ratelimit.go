// Package ratelimit throttles unauthenticated auth endpoints per client.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	apperrors "github.com/libdx/flask-microservices/pkg/errors"
	"github.com/libdx/flask-microservices/pkg/httputil"
	"github.com/libdx/flask-microservices/pkg/middleware"
)

// Backend names accepted by RATE_LIMIT_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc derives the limiter key from a request.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429. A limiter error lets
// the request through.
func Middleware(limiter Limiter, scope string, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := scope + ":" + key(r)
			allowed, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("scope", scope),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", k),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.RateLimited(), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are
// ignored; use ProxyClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	return middleware.RemoteHost(r.RemoteAddr)
}

// ProxyClientIP returns a KeyFunc that honours X-Forwarded-For and X-Real-IP
// only when the peer is inside trustedProxies. X-Forwarded-For is read right
// to left and the first address outside trustedProxies wins, so entries a
// client prepends are never used. Without trusted proxies it is ClientIP.
func ProxyClientIP(trustedProxies []netip.Prefix) KeyFunc {
	if len(trustedProxies) == 0 {
		return ClientIP
	}
	return func(r *http.Request) string {
		peer := ClientIP(r)
		if !middleware.InPrefixes(trustedProxies, peer) {
			return peer
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				ip := net.ParseIP(strings.TrimSpace(hops[i]))
				if ip == nil {
					break
				}
				if !middleware.InPrefixes(trustedProxies, ip.String()) {
					return ip.String()
				}
			}
		}

		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		return peer
	}
}
