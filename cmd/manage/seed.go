package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/libdx/flask-microservices/internal/service"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
)

var demoUsers = []service.CreateUserInput{
	{Username: "michael", Email: "michael@mherman.org", Password: strPtr("greaterthaneight")},
	{Username: "michaelherman", Email: "michaelherman@example.com", Password: strPtr("greaterthaneight")},
}

func strPtr(s string) *string { return &s }

// seedDB inserts the demo users. Users that already exist are skipped, so the
// command can be run repeatedly.
func seedDB(ctx context.Context, users *service.UserService, log *slog.Logger) error {
	for _, in := range demoUsers {
		_, err := users.Create(ctx, in)
		switch {
		case err == nil:
			log.Info("seeded user", slog.String("email", in.Email))
		case errors.Is(err, apperrors.ErrAlreadyExists):
			log.Info("user already exists, skipping", slog.String("email", in.Email))
		default:
			return fmt.Errorf("seed %s: %w", in.Email, err)
		}
	}
	return nil
}
