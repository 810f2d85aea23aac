package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbellec/quarry/internal/repository"
)

// UserRepository implements repository.UserRepository using PostgreSQL
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// VerifyCredentials checks an employee/password pair.
// A wrong employee and a wrong password both return ErrNotFound so the
// caller cannot distinguish which part failed.
func (r *UserRepository) VerifyCredentials(ctx context.Context, employee, password string) (*repository.User, error) {
	query := `
		SELECT employee, company, firstname, lastname, services
		FROM users
		WHERE employee = $1 AND password = $2
	`

	var u repository.User
	err := r.pool.QueryRow(ctx, query, employee, password).Scan(
		&u.Employee, &u.Company, &u.Firstname, &u.Lastname, &u.Services,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	return &u, nil
}

// Ensure UserRepository implements repository.UserRepository
var _ repository.UserRepository = (*UserRepository)(nil)
