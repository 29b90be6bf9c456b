package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libdx/flask-microservices/internal/ratelimit"
	"github.com/libdx/flask-microservices/internal/service"
	"github.com/libdx/flask-microservices/pkg/health"
	"github.com/libdx/flask-microservices/pkg/middleware"
)

// RouterConfig holds the transport switches of the router.
type RouterConfig struct {
	ServiceName string
	Environment string
	CORS        middleware.CORSConfig

	// UsersRequireAuth guards the /users routes with an access token.
	UsersRequireAuth bool

	// RateLimiter throttles /auth/register and /auth/login per client IP.
	// Nil disables throttling.
	RateLimiter ratelimit.Limiter

	// TrustedProxyCIDRs lists reverse proxies whose forwarding headers
	// identify the client for rate limiting.
	TrustedProxyCIDRs []string

	// PprofAllowedCIDRs restricts /debug/pprof. Profiling is only mounted in
	// development.
	PprofAllowedCIDRs []string
}

// Dependencies are the collaborators the router dispatches to.
type Dependencies struct {
	Auth     *service.AuthService
	Users    *service.UserService
	Health   *health.Handler
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer
}

// NewRouter creates a chi router with all users service routes registered.
func NewRouter(deps Dependencies, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger, "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(deps.Metrics, cfg.ServiceName))

	// Health check endpoints
	r.Get("/ping", Ping)
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	if cfg.Environment == "development" {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	// Auth endpoints
	authHandler := NewAuthHandler(deps.Auth, logger)
	clientKey := ratelimit.ProxyClientIP(middleware.ParseCIDRs(cfg.TrustedProxyCIDRs, logger))
	r.Route("/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.With(limit(cfg.RateLimiter, "register", clientKey, logger)...).Post("/register", authHandler.Register)
		r.With(limit(cfg.RateLimiter, "login", clientKey, logger)...).Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Get("/status", authHandler.Status)
	})

	// User CRUD endpoints
	userHandler := NewUserHandler(deps.Users, logger)
	r.Route("/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		if cfg.UsersRequireAuth {
			r.Use(middleware.Auth(deps.Auth.ValidateAccessToken, logger))
			r.Use(middleware.RequestLogger(logger))
		}

		r.Get("/", userHandler.List)
		r.Post("/", userHandler.Create)
		r.Get("/{id}", userHandler.Get)
		r.Put("/{id}", userHandler.Update)
		r.Delete("/{id}", userHandler.Delete)
	})

	return r
}

func limit(l ratelimit.Limiter, scope string, key ratelimit.KeyFunc, logger *slog.Logger) []func(http.Handler) http.Handler {
	if l == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{ratelimit.Middleware(l, scope, key, logger)}
}
