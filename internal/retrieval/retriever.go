package retrieval

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mbellec/quarry/internal/embedder"
	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/vectorstore"
)

const rewritePrompt = `Compress the question below into 3 to 5 search keywords.
Answer with the keywords only, separated by spaces, nothing else.

Question: `

// DocumentResolver resolves a scope to the concrete allow-list of
// searchable document ids for a tenant.
type DocumentResolver interface {
	FilteredDocIDs(ctx context.Context, employee string, tags, excludeIDs []string) ([]string, error)
}

// Retriever issues scoped vector-similarity queries. Every failure on the
// way (resolution, embedding, store) is absorbed into an empty result:
// retrieval degrades to "no evidence", it never aborts the request.
type Retriever struct {
	resolver DocumentResolver
	embedder embedder.Embedder
	llm      llm.LLM
	store    vectorstore.Store
	cfg      Config
	logger   *slog.Logger
}

// NewRetriever creates a candidate retriever.
func NewRetriever(resolver DocumentResolver, emb embedder.Embedder, client llm.LLM, store vectorstore.Store, cfg Config, logger *slog.Logger) *Retriever {
	return &Retriever{
		resolver: resolver,
		embedder: emb,
		llm:      client,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Search returns up to limit candidates matching query within scope.
func (r *Retriever) Search(ctx context.Context, query string, scope Scope, limit int) []Candidate {
	allowed, err := r.resolver.FilteredDocIDs(ctx, scope.Tenant, scope.Tags, scope.ExcludeDocs)
	if err != nil {
		r.logger.Warn("scope resolution failed", "tenant", scope.Tenant, "error", err)
		return nil
	}
	// An empty allow-list is a valid terminal state: nothing to search.
	if len(allowed) == 0 {
		return nil
	}

	searchText := r.rewriteQuery(ctx, query)

	vector, err := r.embedder.Embed(ctx, searchText)
	if err != nil {
		r.logger.Warn("query embedding failed", "error", err)
		return nil
	}

	hits, err := r.store.Search(ctx, scope.Tenant, vector, vectorstore.SearchOptions{
		AllowedDocs: allowed,
		Limit:       limit,
	})
	if err != nil {
		r.logger.Warn("vector search failed", "tenant", scope.Tenant, "error", err)
		return nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		if excludedHit(hit, scope) {
			continue
		}
		candidates = append(candidates, candidateFromHit(hit))
	}
	return candidates
}

// rewriteQuery compresses long queries into keyword form. Best effort:
// any failure falls back to the original query.
func (r *Retriever) rewriteQuery(ctx context.Context, query string) string {
	if utf8.RuneCountInString(query) <= r.cfg.RewriteThreshold {
		return query
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	rewritten, err := r.llm.Generate(ctx, rewritePrompt+query, llm.GenerateOptions{
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query", "error", err)
		return query
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}

func excludedHit(hit vectorstore.Hit, scope Scope) bool {
	source := hit.Metadata["source"]
	for _, s := range scope.ExcludeSources {
		if source == s {
			return true
		}
	}
	origin := hit.Metadata["origin"]
	for _, o := range scope.ExcludeOrigins {
		if origin == o {
			return true
		}
	}
	return false
}

func candidateFromHit(hit vectorstore.Hit) Candidate {
	// Bounded similarity from the raw distance. A store that reports no
	// distance gets the neutral midpoint.
	score := 0.5
	if hit.HasDistance {
		score = 1 / (1 + hit.Distance)
	}

	position := 0
	if pos, err := strconv.Atoi(hit.Metadata["pos"]); err == nil {
		position = pos
	}

	return Candidate{
		ID:          hit.ID,
		DocumentID:  hit.DocumentID,
		Content:     hit.Content,
		Position:    position,
		Source:      hit.Metadata["source"],
		Origin:      hit.Metadata["origin"],
		Metadata:    hit.Metadata,
		VectorScore: score,
	}
}
