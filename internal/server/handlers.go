package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbellec/quarry/internal/auth"
	"github.com/mbellec/quarry/internal/repository"
	"github.com/mbellec/quarry/internal/retrieval"
	"github.com/mbellec/quarry/internal/service"
)

type handlers struct {
	chat   *service.ChatService
	docs   *service.DocumentService
	users  repository.UserRepository
	jwt    *auth.JWTManager
	logger *slog.Logger
}

type loginRequest struct {
	Employee string `json:"employee"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Employee  string `json:"employee"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Company   string `json:"company"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if req.Employee == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	user, err := h.users.VerifyCredentials(r.Context(), req.Employee, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "INVALID_IDENTIFIERS")
			return
		}
		h.logger.Error("credential check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	token, err := h.jwt.GenerateToken(user.Employee)
	if err != nil {
		h.logger.Error("token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Employee:  user.Employee,
		Firstname: user.Firstname,
		Lastname:  user.Lastname,
		Company:   user.Company,
	})
}

type chatRequest struct {
	Question       string   `json:"question"`
	SessionID      string   `json:"session_id"`
	Tags           []string `json:"tags"`
	ExcludeDocs    []string `json:"exclude_docs"`
	ExcludeSources []string `json:"exclude_sources"`
	ExcludeOrigins []string `json:"exclude_origins"`
}

func (h *handlers) chatHandler(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUESTION")
		return
	}

	resp, err := h.chat.Chat(r.Context(), service.ChatRequest{
		Employee:       employee,
		Question:       req.Question,
		SessionID:      req.SessionID,
		Tags:           req.Tags,
		ExcludeDocs:    req.ExcludeDocs,
		ExcludeSources: req.ExcludeSources,
		ExcludeOrigins: req.ExcludeOrigins,
	})
	if err != nil {
		h.logger.Error("chat request failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamEvent is one server-sent event of the streaming chat endpoint.
type streamEvent struct {
	Type      string                  `json:"type"` // meta, token, done, error
	Token     string                  `json:"token,omitempty"`
	SessionID string                  `json:"session_id,omitempty"`
	Strategy  string                  `json:"strategy,omitempty"`
	Documents []service.DocumentScore `json:"documents,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// chatStream answers like chatHandler but streams the generated tokens
// as server-sent events: a meta event first, then token events, then
// done (or error).
func (h *handlers) chatStream(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUESTION")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED")
		return
	}

	result, err := h.chat.ChatStream(r.Context(), service.ChatRequest{
		Employee:       employee,
		Question:       req.Question,
		SessionID:      req.SessionID,
		Tags:           req.Tags,
		ExcludeDocs:    req.ExcludeDocs,
		ExcludeSources: req.ExcludeSources,
		ExcludeOrigins: req.ExcludeOrigins,
	})
	if err != nil {
		h.logger.Error("chat stream failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, streamEvent{
		Type:      "meta",
		SessionID: result.SessionID,
		Strategy:  result.Strategy,
		Documents: result.Documents,
	})

	// Degraded requests carry the whole answer up front.
	if result.Tokens == nil {
		writeSSE(w, flusher, streamEvent{Type: "token", Token: result.Answer})
		writeSSE(w, flusher, streamEvent{Type: "done"})
		return
	}

	for chunk := range result.Tokens {
		if chunk.Error != nil {
			h.logger.Error("chat stream interrupted", "employee", employee, "error", chunk.Error)
			writeSSE(w, flusher, streamEvent{Type: "error", Error: "GENERATION_FAILED"})
			return
		}
		if chunk.Token != "" {
			writeSSE(w, flusher, streamEvent{Type: "token", Token: chunk.Token})
		}
		if chunk.Done {
			break
		}
	}
	writeSSE(w, flusher, streamEvent{Type: "done"})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event streamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

type searchChunk struct {
	ID       string  `json:"id"`
	Doc      string  `json:"doc"`
	Content  string  `json:"content"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}

type searchResponse struct {
	Context  string        `json:"context"`
	Chunks   []searchChunk `json:"chunks"`
	Strategy string        `json:"strategy"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUESTION")
		return
	}

	result, err := h.chat.Search(r.Context(), service.ChatRequest{
		Employee:       employee,
		Question:       req.Question,
		Tags:           req.Tags,
		ExcludeDocs:    req.ExcludeDocs,
		ExcludeSources: req.ExcludeSources,
		ExcludeOrigins: req.ExcludeOrigins,
	})
	if err != nil {
		h.logger.Error("search request failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, searchResponseFrom(result))
}

func searchResponseFrom(result *retrieval.Result) searchResponse {
	chunks := make([]searchChunk, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		chunks = append(chunks, searchChunk{
			ID:       c.ID,
			Doc:      c.DocumentID,
			Content:  c.Content,
			Position: c.Position,
			Score:    c.RelevanceScore,
		})
	}
	return searchResponse{
		Context:  result.Context,
		Chunks:   chunks,
		Strategy: string(result.Strategy),
	}
}

func (h *handlers) tags(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	counts, err := h.docs.Tags(r.Context(), employee)
	if err != nil {
		h.logger.Error("tag listing failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tags": counts})
}

type documentResponse struct {
	Doc        string    `json:"doc"`
	Category   string    `json:"category"`
	Tags       []string  `json:"tags"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	Origin     string    `json:"origin"`
	Synthesis  string    `json:"synthesis"`
	DateInit   time.Time `json:"date_init"`
	DateUpdate time.Time `json:"date_update"`
}

func documentResponseFrom(d *repository.Document) documentResponse {
	return documentResponse{
		Doc:        d.Doc,
		Category:   d.Category,
		Tags:       d.Tags,
		Status:     d.Status,
		Source:     d.Source,
		Origin:     d.Origin,
		Synthesis:  d.Synthesis,
		DateInit:   d.DateInit,
		DateUpdate: d.DateUpdate,
	}
}

func (h *handlers) documents(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, err := h.docs.List(r.Context(), employee, limit, offset)
	if err != nil {
		h.logger.Error("document listing failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponseFrom(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *handlers) documentByDoc(w http.ResponseWriter, r *http.Request) {
	employee, ok := auth.EmployeeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	doc, err := h.docs.Get(r.Context(), employee, chi.URLParam(r, "doc"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND")
			return
		}
		h.logger.Error("document lookup failed", "employee", employee, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, documentResponseFrom(doc))
}
