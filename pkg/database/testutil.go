package database

import (
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var _ Beginner = (pgxmock.PgxPoolIface)(nil)

// NewMockPool creates a pgxmock pool that satisfies Beginner, so it can stand
// in for *pgxpool.Pool in repository and migration tests.
func NewMockPool() (pgxmock.PgxPoolIface, error) {
	return pgxmock.NewPool()
}
