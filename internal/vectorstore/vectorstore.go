// Package vectorstore provides read access to the pre-indexed chunk corpus.
//
// The service never writes to the index: ingestion and chunking are owned
// by an external pipeline. Implementations must guarantee two contract
// points that the retrieval layer relies on:
//
//   - every hit belongs to the tenant named in the query; and
//   - a non-nil but empty allowed-document list short-circuits to zero
//     hits without issuing a query.
package vectorstore

import (
	"context"
)

// Hit is a single similarity-search result.
type Hit struct {
	ID         string
	DocumentID string
	Content    string

	// Distance is the store's raw distance metric for the hit. HasDistance
	// is false when the store did not report one; callers fall back to a
	// neutral similarity in that case.
	Distance    float64
	HasDistance bool

	Metadata map[string]string
}

// SearchOptions scopes a similarity search.
type SearchOptions struct {
	// AllowedDocs restricts hits to the given document ids. nil means no
	// document filter; an empty non-nil slice means "nothing is allowed"
	// and must produce zero hits without querying the store.
	AllowedDocs []string

	// Limit caps the number of hits returned.
	Limit int
}

// Store defines read-only similarity search over the chunk corpus.
type Store interface {
	// Search returns the chunks nearest to vector within the tenant's
	// slice of the corpus, subject to opts.
	Search(ctx context.Context, tenant string, vector []float32, opts SearchOptions) ([]Hit, error)
}
