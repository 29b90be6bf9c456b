// Command manage runs database maintenance tasks for the users service.
//
// Usage:
//
//	manage recreate-db   drop all tables and apply migrations again
//	manage seed-db       insert demo users
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/libdx/flask-microservices/internal/app"
	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/config"
	"github.com/libdx/flask-microservices/internal/event"
	"github.com/libdx/flask-microservices/internal/repository/postgres"
	"github.com/libdx/flask-microservices/internal/service"
	"github.com/libdx/flask-microservices/migrations"
	"github.com/libdx/flask-microservices/pkg/database"
	"github.com/libdx/flask-microservices/pkg/logger"
)

var errUsage = errors.New("usage: manage <recreate-db|seed-db>")

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), errUsage.Error())
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(app.ServiceName+"-manage", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, flag.Args(), log); err != nil {
		log.Error("command failed", slog.String("error", err.Error()))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, log *slog.Logger) error {
	if len(args) != 1 {
		return errUsage
	}
	command := args[0]
	if command != "recreate-db" && command != "seed-db" {
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	switch command {
	case "recreate-db":
		return recreateDB(ctx, pool, log)
	default:
		hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
		if err != nil {
			return err
		}
		users := service.NewUserService(postgres.NewUserRepository(pool), hasher, event.NoopPublisher{}, log)
		return seedDB(ctx, users, log)
	}
}

// recreateDB reverts every migration and applies them again, leaving empty tables.
func recreateDB(ctx context.Context, db database.Beginner, log *slog.Logger) error {
	if err := database.ResetSchema(ctx, db, migrations.FS, log); err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	if err := database.RunMigrations(ctx, db, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database recreated")
	return nil
}
