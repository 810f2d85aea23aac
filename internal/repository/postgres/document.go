package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbellec/quarry/internal/repository"
)

// DocumentRepository implements repository.DocumentRepository using PostgreSQL
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new PostgreSQL document repository
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// FilteredDocIDs resolves the searchable allow-list for an employee.
//
// The status filter is applied in SQL; tag matching is done here because
// it is case-insensitive over array elements, which the tags column does
// not index for.
func (r *DocumentRepository) FilteredDocIDs(ctx context.Context, employee string, tags, excludeIDs []string) ([]string, error) {
	query := `
		SELECT doc, tags
		FROM documents
		WHERE employee = $1 AND status = $2
	`

	rows, err := r.pool.Query(ctx, query, employee, repository.StatusDone)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[strings.ToLower(t)] = true
	}
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var ids []string
	for rows.Next() {
		var doc string
		var docTags []string
		if err := rows.Scan(&doc, &docTags); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if excluded[doc] {
			continue
		}
		if len(wanted) > 0 && !hasAnyTag(docTags, wanted) {
			continue
		}
		ids = append(ids, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return ids, nil
}

func hasAnyTag(docTags []string, wanted map[string]bool) bool {
	for _, t := range docTags {
		if wanted[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// GetByDoc retrieves a document registry entry by id within a tenant
func (r *DocumentRepository) GetByDoc(ctx context.Context, doc, employee string) (*repository.Document, error) {
	query := `
		SELECT doc, employee, category, tags, status, source, origin, synthesis, date_init, date_update
		FROM documents
		WHERE doc = $1 AND employee = $2
	`

	var d repository.Document
	err := r.pool.QueryRow(ctx, query, doc, employee).Scan(
		&d.Doc, &d.Employee, &d.Category, &d.Tags, &d.Status,
		&d.Source, &d.Origin, &d.Synthesis, &d.DateInit, &d.DateUpdate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &d, nil
}

// List returns an employee's documents, newest first
func (r *DocumentRepository) List(ctx context.Context, employee string, limit, offset int) ([]*repository.Document, error) {
	query := `
		SELECT doc, employee, category, tags, status, source, origin, synthesis, date_init, date_update
		FROM documents
		WHERE employee = $1
		ORDER BY date_init DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, employee, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var d repository.Document
		if err := rows.Scan(
			&d.Doc, &d.Employee, &d.Category, &d.Tags, &d.Status,
			&d.Source, &d.Origin, &d.Synthesis, &d.DateInit, &d.DateUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// TagCounts returns the employee's distinct tags with usage counts
func (r *DocumentRepository) TagCounts(ctx context.Context, employee string) (map[string]int, error) {
	query := `
		SELECT unnest(tags) AS tag, count(*)
		FROM documents
		WHERE employee = $1 AND status = $2
		GROUP BY tag
	`

	rows, err := r.pool.Query(ctx, query, employee, repository.StatusDone)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		counts[tag] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	return counts, nil
}

// Ensure DocumentRepository implements repository.DocumentRepository
var _ repository.DocumentRepository = (*DocumentRepository)(nil)
