// Package retrieval implements the adaptive retrieval pipeline: a strategy
// router, a scoped two-stage (vector search then LLM rerank) retriever, and
// a budget-constrained context packer, composed by Engine into a single
// Retrieve call.
package retrieval

import (
	"time"
)

// Strategy selects retrieval width and ordering policy for one request.
// It is decided once per request and immutable afterward.
type Strategy string

const (
	// StrategyGlobal searches wide and orders chunks in document order,
	// so the model reads the evidence like a document.
	StrategyGlobal Strategy = "GLOBAL"

	// StrategySpecific searches narrow and orders chunks by relevance,
	// strongest evidence first.
	StrategySpecific Strategy = "SPECIFIC"
)

// Scope is the immutable per-request filter. Tenant is mandatory: every
// candidate produced under a Scope belongs to that tenant, and cross-tenant
// leakage is a correctness violation.
type Scope struct {
	Tenant         string
	Tags           []string
	ExcludeDocs    []string
	ExcludeSources []string
	ExcludeOrigins []string
}

// Candidate is a retrieved unit of text. It is created by the Retriever
// from a vector-store hit, scored once by the Judge, read by the Packer,
// and discarded when the request completes.
type Candidate struct {
	ID         string
	DocumentID string
	Content    string

	// Position is the chunk's narrative index within its document.
	Position int

	Source   string
	Origin   string
	Metadata map[string]string

	// VectorScore is the bounded similarity derived from the store's
	// distance metric, in [0,1].
	VectorScore float64

	// RelevanceScore is assigned by the Judge; Judged reports whether it
	// was set by an accepted LLM score rather than the safety net.
	RelevanceScore float64
	Judged         bool
}

// Result is the sole output of the pipeline, owned by the caller.
type Result struct {
	Context  string
	Chunks   []Candidate
	Strategy Strategy
}

// Ordering is the packer's final ordering policy.
type Ordering int

const (
	// OrderNarrative sorts ascending by document position.
	OrderNarrative Ordering = iota
	// OrderRelevance sorts descending by relevance score.
	OrderRelevance
)

// Config holds the pipeline's tuned policy constants. They are
// configuration, not protocol: tests and deployments vary them per
// instance instead of mutating process-wide state.
type Config struct {
	// Search width per strategy.
	GlobalLimit   int
	SpecificLimit int

	// RewriteThreshold is the query length in characters above which the
	// retriever asks the LLM to compress the query into keywords.
	RewriteThreshold int

	// Judge policy.
	JudgeBatchSize    int
	JudgePoolCap      int
	JudgePreviewChars int
	JudgeThreshold    float64
	// SafetyScore is the nominal relevance attached to the safety-net
	// candidate when every score was rejected.
	SafetyScore float64

	// Rerank depth per strategy.
	TopKGlobal   int
	TopKSpecific int

	// SpecificMaxItems caps the packed chunk count under SPECIFIC.
	// GLOBAL is unbounded.
	SpecificMaxItems int

	// LLMTimeout bounds each individual LLM call. A timeout is handled
	// like the call's other failure modes, never as a request failure.
	LLMTimeout time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		GlobalLimit:       50,
		SpecificLimit:     30,
		RewriteThreshold:  100,
		JudgeBatchSize:    5,
		JudgePoolCap:      20,
		JudgePreviewChars: 800,
		JudgeThreshold:    0.4,
		SafetyScore:       0.4,
		TopKGlobal:        20,
		TopKSpecific:      10,
		SpecificMaxItems:  5,
		LLMTimeout:        60 * time.Second,
	}
}
