package retrieval

import (
	"fmt"
	"sort"
	"strings"
)

// ContextLimiter reports the generation backend's hard character budget
// for retrieved context.
type ContextLimiter interface {
	ContextLimit() int
}

// Packer greedily fills the character budget from ranked candidates.
// Packing is greedy-sequential, not knapsack-optimal: the first candidate
// that would overflow the budget stops the pass. That keeps selection
// deterministic and cheap.
type Packer struct {
	limiter ContextLimiter
}

// NewPacker creates a context packer.
func NewPacker(limiter ContextLimiter) *Packer {
	return &Packer{limiter: limiter}
}

// Pack selects candidates in their given order until the budget is hit,
// reorders the selection per ordering, and renders the context text.
// maxItems caps the pool before packing; zero or negative means unbounded.
// The budget counts content characters only, header lines are overhead.
func (p *Packer) Pack(candidates []Candidate, ordering Ordering, maxItems int) (string, []Candidate) {
	if maxItems > 0 && len(candidates) > maxItems {
		candidates = candidates[:maxItems]
	}

	budget := p.limiter.ContextLimit()
	var selected []Candidate
	used := 0
	for _, c := range candidates {
		if used+len(c.Content) > budget {
			break
		}
		used += len(c.Content)
		selected = append(selected, c)
	}

	switch ordering {
	case OrderNarrative:
		sort.SliceStable(selected, func(a, b int) bool {
			return selected[a].Position < selected[b].Position
		})
	case OrderRelevance:
		sort.SliceStable(selected, func(a, b int) bool {
			return selected[a].RelevanceScore > selected[b].RelevanceScore
		})
	}

	parts := make([]string, 0, len(selected))
	for _, c := range selected {
		header := fmt.Sprintf("--- %s (chunk %d, score %.2f) ---", c.DocumentID, c.Position, c.RelevanceScore)
		parts = append(parts, header+"\n"+c.Content)
	}

	return strings.Join(parts, "\n\n"), selected
}
