package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/config"
	"github.com/libdx/flask-microservices/internal/event"
	handler "github.com/libdx/flask-microservices/internal/handler/http"
	"github.com/libdx/flask-microservices/internal/ratelimit"
	"github.com/libdx/flask-microservices/internal/repository/postgres"
	"github.com/libdx/flask-microservices/internal/service"
	"github.com/libdx/flask-microservices/migrations"
	"github.com/libdx/flask-microservices/pkg/database"
	"github.com/libdx/flask-microservices/pkg/health"
	pkgkafka "github.com/libdx/flask-microservices/pkg/kafka"
	"github.com/libdx/flask-microservices/pkg/middleware"
	"github.com/libdx/flask-microservices/pkg/tracing"
)

// ServiceName labels logs, metrics and traces.
const ServiceName = "users"

// App wires together all dependencies and runs the users service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown tracing.Shutdown
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL", poolTarget(pool.Config())...)
	if err := database.RegisterPoolMetrics(registry, pool, ServiceName); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	// Event publishing.
	publisher, producer := newPublisher(cfg, registry, logger)
	a.producer = producer
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	// Rate limiting.
	limiter, redisClient, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.redis = redisClient
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// Build the dependency graph.
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("create password hasher: %w", err)
	}
	codec := auth.NewTokenCodec(cfg.Token())
	userRepo := postgres.NewUserRepository(pool)

	authService := service.NewAuthService(userRepo, hasher, codec, publisher,
		service.NewAuthMetrics(registry),
		service.AuthConfig{EnforceTokenKind: cfg.EnforceTokenKind},
		logger,
	)
	userService := service.NewUserService(userRepo, hasher, publisher, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	// HTTP router.
	router := handler.NewRouter(handler.Dependencies{
		Auth:     authService,
		Users:    userService,
		Health:   healthHandler,
		Metrics:  middleware.NewHTTPMetrics(registry),
		Gatherer: registry,
	}, handler.RouterConfig{
		ServiceName:       ServiceName,
		Environment:       cfg.Environment,
		CORS:              corsCfg,
		UsersRequireAuth:  cfg.UsersRequireAuth,
		RateLimiter:       limiter,
		TrustedProxyCIDRs: cfg.TrustedProxyCIDRs,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// poolTarget describes the server a pool dials, as resolved from either
// DATABASE_URL or the POSTGRES_* parts.
func poolTarget(cfg *pgxpool.Config) []any {
	conn := cfg.ConnConfig
	return []any{
		slog.String("host", conn.Host),
		slog.Int("port", int(conn.Port)),
		slog.String("database", conn.Database),
	}
}

// newPublisher returns the Kafka backed publisher when Kafka is enabled and a
// no-op publisher otherwise. The producer is returned for shutdown.
func newPublisher(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (event.Publisher, *pkgkafka.Producer) {
	if !cfg.KafkaEnabled {
		logger.Info("kafka disabled, user events are dropped")
		return event.NoopPublisher{}, nil
	}

	producer := pkgkafka.NewProducer(
		pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers),
		logger,
		pkgkafka.NewProducerMetrics(reg),
	)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	publisher := event.NewProducer(producer, event.DefaultBreakerConfig(), event.NewBreakerMetrics(reg), logger)
	return publisher, producer
}

// newRateLimiter builds the limiter selected by RATE_LIMIT_BACKEND. The Redis
// client is returned so it can be health checked and closed.
func newRateLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, *redis.Client, error) {
	switch cfg.RateLimitBackend {
	case ratelimit.BackendMemory:
		return ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow), nil, nil
	case ratelimit.BackendRedis:
		client, err := database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
		return ratelimit.NewRedisLimiter(client, cfg.RateLimitRequests, cfg.RateLimitWindow), client, nil
	default:
		logger.Info("rate limiting disabled")
		return nil, nil, nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases the producer, Redis and PostgreSQL, in that order.
// It is safe on a partially initialized App.
func (a *App) closeResources() []error {
	var errs []error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}

	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(context.Background())
		a.tracerShutdown = nil
	}

	return errs
}
