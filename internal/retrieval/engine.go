package retrieval

import (
	"context"
	"log/slog"
)

// Engine composes the pipeline into a single Retrieve call. It is a pure
// read path: no call mutates the corpus, and concurrent requests share
// nothing but the read-only index and prompt store.
type Engine struct {
	router    *Router
	retriever *Retriever
	judge     *Judge
	packer    *Packer
	cfg       Config
	logger    *slog.Logger
}

// NewEngine wires the pipeline components.
func NewEngine(router *Router, retriever *Retriever, judge *Judge, packer *Packer, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		router:    router,
		retriever: retriever,
		judge:     judge,
		packer:    packer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Retrieve runs Router, Retriever, Judge, and Packer in sequence. Finding
// nothing is not an error: an empty scope or an irrelevant corpus returns
// an empty Result. Only failures the components escalate themselves
// (a missing scoring template) propagate.
func (e *Engine) Retrieve(ctx context.Context, query string, scope Scope) (*Result, error) {
	strategy := e.router.Classify(ctx, query)

	limit := e.cfg.SpecificLimit
	topK := e.cfg.TopKSpecific
	ordering := OrderRelevance
	maxItems := e.cfg.SpecificMaxItems
	if strategy == StrategyGlobal {
		limit = e.cfg.GlobalLimit
		topK = e.cfg.TopKGlobal
		ordering = OrderNarrative
		maxItems = 0
	}

	candidates := e.retriever.Search(ctx, query, scope, limit)
	e.logger.Debug("retrieval complete",
		"strategy", strategy, "candidates", len(candidates), "tenant", scope.Tenant)
	if len(candidates) == 0 {
		return &Result{Strategy: strategy}, nil
	}

	ranked, err := e.judge.Rerank(ctx, query, candidates, topK)
	if err != nil {
		return nil, err
	}

	packed, chunks := e.packer.Pack(ranked, ordering, maxItems)

	return &Result{
		Context:  packed,
		Chunks:   chunks,
		Strategy: strategy,
	}, nil
}
