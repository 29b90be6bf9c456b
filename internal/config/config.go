package config

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/ratelimit"
	pkgconfig "github.com/libdx/flask-microservices/pkg/config"
	"github.com/libdx/flask-microservices/pkg/database"
	"github.com/libdx/flask-microservices/pkg/tracing"
)

// DefaultSecret is the development placeholder for SECRET_KEY.
const DefaultSecret = "change-this-to-a-secure-secret"

// Environments.
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all configuration for the users service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"5000"`

	// PostgreSQL. DATABASE_URL wins over the individual parts.
	DatabaseURL           string `env:"DATABASE_URL"`
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresDB            string `env:"POSTGRES_DB" envDefault:"users_dev"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`
	SlowQueryThresholdMs  int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Tokens. Expirations are in seconds.
	SecretKey              string `env:"SECRET_KEY" envDefault:"change-this-to-a-secure-secret"`
	AccessTokenExpiration  int    `env:"ACCESS_TOKEN_EXPIRATION" envDefault:"900"`
	RefreshTokenExpiration int    `env:"REFRESH_TOKEN_EXPIRATION" envDefault:"2592000"`
	JWTIssuer              string `env:"JWT_ISSUER" envDefault:"users"`
	EnforceTokenKind       bool   `env:"JWT_ENFORCE_TOKEN_KIND" envDefault:"true"`

	// Passwords
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	// Access control
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	UsersRequireAuth   bool     `env:"USERS_REQUIRE_AUTH" envDefault:"false"`

	// Rate limiting of /auth/login and /auth/register
	RateLimitBackend  string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Reverse proxies whose X-Forwarded-For and X-Real-IP headers are trusted
	// when keying the rate limiter. Empty means the peer address is used.
	TrustedProxyCIDRs []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	// Redis, only dialed by the redis rate limit backend
	RedisURL      string `env:"REDIS_URL"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	Tracing tracing.Config

	// Profiling (development only)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load users config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Tracing.Environment = cfg.Environment
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q", c.Environment)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	// Outside development the secret must be set explicitly and be strong.
	if c.Environment != EnvDevelopment {
		if c.SecretKey == DefaultSecret {
			return fmt.Errorf("SECRET_KEY must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.SecretKey) < 32 {
			return fmt.Errorf("SECRET_KEY must be at least 32 characters long, got %d", len(c.SecretKey))
		}
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	if c.Environment == EnvProduction && c.BcryptCost < 10 {
		return fmt.Errorf("BCRYPT_COST must be at least 10 in production, got %d", c.BcryptCost)
	}

	switch c.RateLimitBackend {
	case ratelimit.BackendNone:
	case ratelimit.BackendMemory, ratelimit.BackendRedis:
		if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
			return fmt.Errorf("rate limit needs RATE_LIMIT_REQUESTS > 0 and RATE_LIMIT_WINDOW > 0")
		}
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must be set when KAFKA_ENABLED is true")
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Postgres returns the connection pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:             c.DatabaseURL,
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.URL = c.RedisURL
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// Token returns the token codec configuration.
func (c *Config) Token() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     c.SecretKey,
		AccessTTL:  time.Duration(c.AccessTokenExpiration) * time.Second,
		RefreshTTL: time.Duration(c.RefreshTokenExpiration) * time.Second,
		Issuer:     c.JWTIssuer,
	}
}
