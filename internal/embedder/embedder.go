// Package embedder provides interfaces and implementations for text embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
// The retrieval path only ever embeds single queries; batch embedding
// belongs to the (external) ingestion pipeline.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}
