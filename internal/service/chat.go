// Package service implements the answer assembly on top of the retrieval
// pipeline: it resolves the caller's scope, retrieves evidence, renders
// prompts, and generates the final response.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/memory"
	"github.com/mbellec/quarry/internal/repository"
	"github.com/mbellec/quarry/internal/retrieval"
)

// chatTemplate is the stored system prompt for answer generation. Unlike
// the scoring template, a missing entry falls back to the built-in
// default instead of failing the request.
const chatTemplate = "agent_chat"

const defaultSystemPrompt = `Tu es un assistant documentaire. Réponds à la question en te basant uniquement sur le contexte fourni. Si le contexte ne contient pas la réponse, dis-le clairement. Réponds dans la langue de la question.`

// User-facing degradation messages. Finding nothing is an answer, never
// a server error.
const (
	msgNoDocuments = "Aucun document ne correspond à vos filtres."
	msgNoRelevant  = "Je n'ai trouvé aucune information pertinente dans les documents sélectionnés."
)

// Engine is the retrieval pipeline consumed by the service.
type Engine interface {
	Retrieve(ctx context.Context, query string, scope retrieval.Scope) (*retrieval.Result, error)
}

// ChatRequest carries one authenticated chat turn.
type ChatRequest struct {
	Employee       string
	Question       string
	SessionID      string
	Tags           []string
	ExcludeDocs    []string
	ExcludeSources []string
	ExcludeOrigins []string
}

// DocumentScore is the best relevance score observed for one document.
type DocumentScore struct {
	Doc   string  `json:"doc"`
	Score float64 `json:"score"`
}

// ChatResponse is the assembled answer. SessionID echoes the request's
// session, or a freshly minted one when the request carried none.
type ChatResponse struct {
	Answer    string          `json:"answer"`
	Strategy  string          `json:"strategy"`
	SessionID string          `json:"session_id"`
	Documents []DocumentScore `json:"documents"`
}

// ChatService assembles answers from retrieved evidence.
type ChatService struct {
	engine   Engine
	llm      llm.LLM
	prompts  repository.PromptRepository
	docs     repository.DocumentRepository
	sessions *memory.Store
	logger   *slog.Logger
}

// NewChatService creates the answer assembly service.
func NewChatService(engine Engine, client llm.LLM, prompts repository.PromptRepository, docs repository.DocumentRepository, sessions *memory.Store, logger *slog.Logger) *ChatService {
	return &ChatService{
		engine:   engine,
		llm:      client,
		prompts:  prompts,
		docs:     docs,
		sessions: sessions,
		logger:   logger,
	}
}

// Chat retrieves evidence for the question and generates an answer.
// Empty scopes and irrelevant corpora return explanatory answers, not
// errors; only infrastructure failures (generation, a missing scoring
// template) surface as errors.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	scope := scopeFromRequest(req)

	allowed, err := s.docs.FilteredDocIDs(ctx, req.Employee, req.Tags, req.ExcludeDocs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope: %w", err)
	}
	if len(allowed) == 0 {
		return &ChatResponse{Answer: msgNoDocuments, SessionID: req.SessionID}, nil
	}

	result, err := s.engine.Retrieve(ctx, req.Question, scope)
	if err != nil {
		return nil, err
	}
	if len(result.Chunks) == 0 {
		return &ChatResponse{
			Answer:    msgNoRelevant,
			Strategy:  string(result.Strategy),
			SessionID: req.SessionID,
		}, nil
	}

	answer, err := s.generate(ctx, req, result.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	s.sessions.Append(req.SessionID, "user", req.Question)
	s.sessions.Append(req.SessionID, "assistant", answer)

	return &ChatResponse{
		Answer:    answer,
		Strategy:  string(result.Strategy),
		SessionID: req.SessionID,
		Documents: documentScores(result.Chunks),
	}, nil
}

// StreamResult is the streaming counterpart of ChatResponse. When the
// pipeline degrades (no documents in scope, nothing relevant) Answer
// carries the terminal message and Tokens is nil; otherwise Tokens
// streams the generated answer.
type StreamResult struct {
	SessionID string
	Strategy  string
	Documents []DocumentScore
	Answer    string
	Tokens    <-chan llm.StreamChunk
}

// ChatStream is Chat with a streamed answer. The session history is
// recorded once the stream completes without error.
func (s *ChatService) ChatStream(ctx context.Context, req ChatRequest) (*StreamResult, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	allowed, err := s.docs.FilteredDocIDs(ctx, req.Employee, req.Tags, req.ExcludeDocs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope: %w", err)
	}
	if len(allowed) == 0 {
		return &StreamResult{Answer: msgNoDocuments, SessionID: req.SessionID}, nil
	}

	result, err := s.engine.Retrieve(ctx, req.Question, scopeFromRequest(req))
	if err != nil {
		return nil, err
	}
	if len(result.Chunks) == 0 {
		return &StreamResult{
			Answer:    msgNoRelevant,
			Strategy:  string(result.Strategy),
			SessionID: req.SessionID,
		}, nil
	}

	prompt, systemPrompt := s.buildPrompt(ctx, req, result.Context)
	stream, err := s.llm.GenerateStream(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range stream {
			full.WriteString(chunk.Token)
			out <- chunk
			if chunk.Error != nil {
				// Failed generations are not recorded as history.
				return
			}
		}
		s.sessions.Append(req.SessionID, "user", req.Question)
		s.sessions.Append(req.SessionID, "assistant", full.String())
	}()

	return &StreamResult{
		SessionID: req.SessionID,
		Strategy:  string(result.Strategy),
		Documents: documentScores(result.Chunks),
		Tokens:    out,
	}, nil
}

// Search runs retrieval only, returning the packed context and selected
// chunks without generation.
func (s *ChatService) Search(ctx context.Context, req ChatRequest) (*retrieval.Result, error) {
	return s.engine.Retrieve(ctx, req.Question, scopeFromRequest(req))
}

func (s *ChatService) generate(ctx context.Context, req ChatRequest, packedContext string) (string, error) {
	prompt, systemPrompt := s.buildPrompt(ctx, req, packedContext)
	return s.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: systemPrompt,
	})
}

// buildPrompt renders the generation prompt and resolves the system
// prompt from the prompt store, falling back to the built-in default.
func (s *ChatService) buildPrompt(ctx context.Context, req ChatRequest, packedContext string) (prompt, systemPrompt string) {
	systemPrompt = defaultSystemPrompt
	if p, err := s.prompts.GetByName(ctx, chatTemplate); err == nil {
		systemPrompt = p.Prompt
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("failed to load chat template, using default", "error", err)
	}

	var b strings.Builder
	if history := s.sessions.Render(req.SessionID); history != "" {
		b.WriteString("Historique de conversation:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	b.WriteString("Contexte documentaire:\n")
	b.WriteString(packedContext)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(req.Question)

	return b.String(), systemPrompt
}

func scopeFromRequest(req ChatRequest) retrieval.Scope {
	return retrieval.Scope{
		Tenant:         req.Employee,
		Tags:           req.Tags,
		ExcludeDocs:    req.ExcludeDocs,
		ExcludeSources: req.ExcludeSources,
		ExcludeOrigins: req.ExcludeOrigins,
	}
}

// documentScores aggregates the best relevance score per document,
// sorted descending.
func documentScores(chunks []retrieval.Candidate) []DocumentScore {
	best := make(map[string]float64)
	for _, c := range chunks {
		if c.RelevanceScore > best[c.DocumentID] {
			best[c.DocumentID] = c.RelevanceScore
		}
	}

	scores := make([]DocumentScore, 0, len(best))
	for doc, score := range best {
		scores = append(scores, DocumentScore{Doc: doc, Score: score})
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].Score != scores[b].Score {
			return scores[a].Score > scores[b].Score
		}
		return scores[a].Doc < scores[b].Doc
	})
	return scores
}
