package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbellec/quarry/internal/repository"
)

// PromptRepository implements repository.PromptRepository using PostgreSQL
type PromptRepository struct {
	pool *pgxpool.Pool
}

// NewPromptRepository creates a new PostgreSQL prompt repository
func NewPromptRepository(pool *pgxpool.Pool) *PromptRepository {
	return &PromptRepository{pool: pool}
}

// GetByName retrieves a prompt template by name
func (r *PromptRepository) GetByName(ctx context.Context, name string) (*repository.Prompt, error) {
	query := `
		SELECT id, name, prompt, "user", description
		FROM prompts
		WHERE name = $1
	`

	var p repository.Prompt
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&p.ID, &p.Name, &p.Prompt, &p.User, &p.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}

	return &p, nil
}

// Ensure PromptRepository implements repository.PromptRepository
var _ repository.PromptRepository = (*PromptRepository)(nil)
