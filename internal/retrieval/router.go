package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mbellec/quarry/internal/llm"
)

// summaryKeywords trigger the GLOBAL strategy without an LLM call. The
// corpus is predominantly French, so both languages are covered.
var summaryKeywords = []string{
	"résumé",
	"résume",
	"synthèse",
	"vue d'ensemble",
	"de quoi parle",
	"summary",
	"summarize",
	"overview",
	"what is this about",
}

const classifyPrompt = `Classify the user question below as GLOBAL or SPECIFIC.
GLOBAL: the question asks for a summary, an overview, or the general subject of the documents.
SPECIFIC: the question asks for a precise fact, value, or detail.
Answer with exactly one word: GLOBAL or SPECIFIC.

Question: `

// Router decides the retrieval strategy for a query: a free keyword
// heuristic first, then a one-word LLM classification, defaulting to
// SPECIFIC whenever the model fails or answers anything else.
type Router struct {
	llm    llm.LLM
	cfg    Config
	logger *slog.Logger
}

// NewRouter creates a strategy router.
func NewRouter(client llm.LLM, cfg Config, logger *slog.Logger) *Router {
	return &Router{llm: client, cfg: cfg, logger: logger}
}

// Classify returns the strategy for query. It never fails: router errors
// degrade to SPECIFIC, the narrower and cheaper path.
func (r *Router) Classify(ctx context.Context, query string) Strategy {
	lowered := strings.ToLower(query)
	for _, kw := range summaryKeywords {
		if strings.Contains(lowered, kw) {
			return StrategyGlobal
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	response, err := r.llm.Generate(ctx, classifyPrompt+query, llm.GenerateOptions{
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("strategy classification failed, defaulting to SPECIFIC", "error", err)
		return StrategySpecific
	}

	if strings.Contains(strings.ToUpper(response), "GLOBAL") {
		return StrategyGlobal
	}
	return StrategySpecific
}
