package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mbellec/quarry/internal/jsonx"
	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/repository"
)

// rerankTemplate is the stored scoring template. It must contain the
// {question} and {context} placeholders.
const rerankTemplate = "agent_rerank"

const rerankSystemPrompt = "You are a JSON scoring system. Respond only with a JSON array, no prose, no explanation."

// ErrPromptMissing reports that the scoring template is absent from the
// prompt store. Unlike every other judge failure this one escalates: a
// missing template is a configuration defect, not a data condition.
var ErrPromptMissing = errors.New("prompt template missing")

// Judge scores candidates for relevance through the LLM, in small batches,
// and keeps only the ones above the acceptance threshold.
type Judge struct {
	llm     llm.LLM
	prompts repository.PromptRepository
	cfg     Config
	logger  *slog.Logger
}

// NewJudge creates a relevance judge.
func NewJudge(client llm.LLM, prompts repository.PromptRepository, cfg Config, logger *slog.Logger) *Judge {
	return &Judge{llm: client, prompts: prompts, cfg: cfg, logger: logger}
}

// Rerank scores candidates against query and returns at most topK of
// them, best first, with relevance scores attached. A non-empty input
// never yields an empty output: when every score is rejected the single
// best vector-score candidate is returned with a nominal score.
func (j *Judge) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	template, err := j.prompts.GetByName(ctx, rerankTemplate)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPromptMissing, rerankTemplate)
		}
		return nil, fmt.Errorf("failed to load scoring template: %w", err)
	}

	pool := candidates
	if len(pool) > j.cfg.JudgePoolCap {
		pool = pool[:j.cfg.JudgePoolCap]
	}

	var accepted []Candidate
	for start := 0; start < len(pool); start += j.cfg.JudgeBatchSize {
		end := start + j.cfg.JudgeBatchSize
		if end > len(pool) {
			end = len(pool)
		}
		accepted = append(accepted, j.scoreBatch(ctx, query, template.Prompt, pool[start:end])...)
	}

	// Stable sort keeps retrieval order among equal scores.
	sort.SliceStable(accepted, func(a, b int) bool {
		return accepted[a].RelevanceScore > accepted[b].RelevanceScore
	})
	if len(accepted) > topK {
		accepted = accepted[:topK]
	}

	if len(accepted) == 0 {
		// Safety net: never starve a non-empty pool down to zero evidence.
		best := pool[0]
		for _, c := range pool[1:] {
			if c.VectorScore > best.VectorScore {
				best = c
			}
		}
		best.RelevanceScore = j.cfg.SafetyScore
		j.logger.Warn("all candidates rejected, falling back to best vector match",
			"document", best.DocumentID, "vector_score", best.VectorScore)
		return []Candidate{best}, nil
	}

	return accepted, nil
}

// scoreBatch scores one batch. Every failure mode (LLM error, timeout,
// unparseable output) drops the whole batch.
func (j *Judge) scoreBatch(ctx context.Context, query, template string, batch []Candidate) []Candidate {
	prompt := strings.ReplaceAll(template, "{question}", query)
	prompt = strings.ReplaceAll(prompt, "{context}", j.buildPreviews(batch))

	ctx, cancel := context.WithTimeout(ctx, j.cfg.LLMTimeout)
	defer cancel()

	response, err := j.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: rerankSystemPrompt,
		Temperature:  0,
	})
	if err != nil {
		j.logger.Warn("scoring batch failed", "batch_size", len(batch), "error", err)
		return nil
	}

	entries := jsonx.ParseArray(response)
	if entries == nil {
		j.logger.Warn("scoring batch returned unparseable output", "batch_size", len(batch))
		return nil
	}

	var accepted []Candidate
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := batchIndex(obj["chunk_index"], len(batch))
		if !ok {
			continue
		}
		score, ok := obj["score"].(float64)
		if !ok || score < j.cfg.JudgeThreshold {
			continue
		}
		c := batch[idx]
		c.RelevanceScore = score
		c.Judged = true
		accepted = append(accepted, c)
	}
	return accepted
}

// buildPreviews renders the numbered chunk previews the template's
// {context} placeholder is substituted with.
func (j *Judge) buildPreviews(batch []Candidate) string {
	var b strings.Builder
	for i, c := range batch {
		// Truncate on characters, not bytes, so multi-byte runes in
		// accented text never get split mid-sequence.
		preview := c.Content
		if len(preview) > j.cfg.JudgePreviewChars {
			if runes := []rune(preview); len(runes) > j.cfg.JudgePreviewChars {
				preview = string(runes[:j.cfg.JudgePreviewChars])
			}
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		fmt.Fprintf(&b, "--- Chunk %d ---\n%s\n\n", i, preview)
	}
	return b.String()
}

// batchIndex validates a chunk_index value: it must be an integral JSON
// number within the batch's range.
func batchIndex(v any, size int) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	idx := int(f)
	if idx < 0 || idx >= size {
		return 0, false
	}
	return idx, true
}
