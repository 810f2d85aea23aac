package service

import (
	"context"

	"github.com/mbellec/quarry/internal/repository"
)

const (
	defaultDocumentPage = 20
	maxDocumentPage     = 100
)

// DocumentService exposes read access to the per-tenant document
// registry: listing, single lookup, and tag aggregation.
type DocumentService struct {
	docs repository.DocumentRepository
}

// NewDocumentService creates the document registry service.
func NewDocumentService(docs repository.DocumentRepository) *DocumentService {
	return &DocumentService{docs: docs}
}

// List returns a page of the employee's documents, newest first.
func (s *DocumentService) List(ctx context.Context, employee string, limit, offset int) ([]*repository.Document, error) {
	if limit <= 0 || limit > maxDocumentPage {
		limit = defaultDocumentPage
	}
	if offset < 0 {
		offset = 0
	}
	return s.docs.List(ctx, employee, limit, offset)
}

// Get returns one registry entry, or repository.ErrNotFound.
func (s *DocumentService) Get(ctx context.Context, employee, doc string) (*repository.Document, error) {
	return s.docs.GetByDoc(ctx, doc, employee)
}

// Tags returns the employee's distinct document tags with counts.
func (s *DocumentService) Tags(ctx context.Context, employee string) (map[string]int, error) {
	return s.docs.TagCounts(ctx, employee)
}
