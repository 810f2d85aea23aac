package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbellec/quarry/internal/auth"
	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/memory"
	"github.com/mbellec/quarry/internal/repository"
	"github.com/mbellec/quarry/internal/retrieval"
	"github.com/mbellec/quarry/internal/service"
)

type fakeEngine struct {
	result *retrieval.Result
}

func (f *fakeEngine) Retrieve(context.Context, string, retrieval.Scope) (*retrieval.Result, error) {
	return f.result, nil
}

type fakeLLM struct {
	response string
	tokens   []string
}

func (f *fakeLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return f.response, nil
}

func (f *fakeLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, tok := range f.tokens {
			out <- llm.StreamChunk{Token: tok}
		}
		out <- llm.StreamChunk{Done: true}
	}()
	return out, nil
}

func (f *fakeLLM) ContextLimit() int { return 12000 }

type fakeDocs struct {
	ids  []string
	docs []*repository.Document
	tags map[string]int
}

func (f *fakeDocs) FilteredDocIDs(context.Context, string, []string, []string) ([]string, error) {
	return f.ids, nil
}

func (f *fakeDocs) GetByDoc(_ context.Context, doc, _ string) (*repository.Document, error) {
	for _, d := range f.docs {
		if d.Doc == doc {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDocs) List(context.Context, string, int, int) ([]*repository.Document, error) {
	return f.docs, nil
}

func (f *fakeDocs) TagCounts(context.Context, string) (map[string]int, error) {
	return f.tags, nil
}

type fakePrompts struct{}

func (fakePrompts) GetByName(context.Context, string) (*repository.Prompt, error) {
	return nil, repository.ErrNotFound
}

type fakeUsers struct {
	user *repository.User
}

func (f *fakeUsers) VerifyCredentials(_ context.Context, employee, password string) (*repository.User, error) {
	if f.user != nil && f.user.Employee == employee && password == "secret" {
		return f.user, nil
	}
	return nil, repository.ErrNotFound
}

func newTestServer(t *testing.T) (*HTTPServer, *auth.JWTManager) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := &fakeEngine{result: &retrieval.Result{
		Context:  "--- doc-1 (chunk 0, score 0.90) ---\nthe vault code is 4821",
		Strategy: retrieval.StrategySpecific,
		Chunks: []retrieval.Candidate{
			{ID: "a", DocumentID: "doc-1", Content: "the vault code is 4821", Position: 0, RelevanceScore: 0.9},
		},
	}}
	docs := &fakeDocs{
		ids: []string{"doc-1"},
		docs: []*repository.Document{
			{Doc: "doc-1", Employee: "emp-1", Category: "hr", Tags: []string{"hr"}, Status: repository.StatusDone, Synthesis: "règlement intérieur"},
		},
		tags: map[string]int{"hr": 3, "finance": 1},
	}
	client := &fakeLLM{response: "Le code est 4821.", tokens: []string{"Le code ", "est 4821."}}
	chatSvc := service.NewChatService(engine, client, fakePrompts{}, docs, memory.NewStore(10, time.Hour), logger)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	users := &fakeUsers{user: &repository.User{Employee: "emp-1", Firstname: "Marie", Lastname: "Bellec"}}

	srv := NewHTTPServer(HTTPServerConfig{
		Port:      0,
		Logger:    logger,
		Chat:      chatSvc,
		Documents: service.NewDocumentService(docs),
		Users:     users,
		JWT:       jwtManager,
	})
	return srv, jwtManager
}

func doJSON(t *testing.T, srv *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid credentials", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/login", "", map[string]string{
			"employee": "emp-1", "password": "secret",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["token"] == "" {
			t.Error("expected a token")
		}
		if resp["firstname"] != "Marie" {
			t.Errorf("firstname = %q", resp["firstname"])
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/login", "", map[string]string{
			"employee": "emp-1", "password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		var resp map[string]string
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["error"] != "INVALID_IDENTIFIERS" {
			t.Errorf("error = %q, want INVALID_IDENTIFIERS", resp["error"])
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/login", "", map[string]string{"employee": "emp-1"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestChatEndpoint(t *testing.T) {
	srv, jwtManager := newTestServer(t)
	token, err := jwtManager.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	t.Run("requires authentication", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat", "", map[string]string{"question": "q"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("answers", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat", token, map[string]string{
			"question": "quel est le code du coffre",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp service.ChatResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Answer != "Le code est 4821." {
			t.Errorf("Answer = %q", resp.Answer)
		}
		if resp.Strategy != "SPECIFIC" {
			t.Errorf("Strategy = %q", resp.Strategy)
		}
	})

	t.Run("missing question", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat", token, map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

// decodeSSE parses the data lines of a server-sent event body.
func decodeSSE(t *testing.T, body string) []streamEvent {
	t.Helper()

	var events []streamEvent
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatStreamEndpoint(t *testing.T) {
	srv, jwtManager := newTestServer(t)
	token, err := jwtManager.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	t.Run("requires authentication", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat/stream", "", map[string]string{"question": "q"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("streams tokens", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat/stream", token, map[string]string{
			"question": "quel est le code du coffre",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Content-Type = %q, want text/event-stream", ct)
		}

		events := decodeSSE(t, rec.Body.String())
		if len(events) < 3 {
			t.Fatalf("got %d events, want meta + tokens + done", len(events))
		}
		if events[0].Type != "meta" || events[0].SessionID == "" || events[0].Strategy != "SPECIFIC" {
			t.Errorf("first event = %+v, want meta with session and strategy", events[0])
		}
		var answer strings.Builder
		for _, ev := range events[1 : len(events)-1] {
			if ev.Type != "token" {
				t.Fatalf("event type = %q, want token", ev.Type)
			}
			answer.WriteString(ev.Token)
		}
		if answer.String() != "Le code est 4821." {
			t.Errorf("streamed answer = %q", answer.String())
		}
		if events[len(events)-1].Type != "done" {
			t.Errorf("last event type = %q, want done", events[len(events)-1].Type)
		}
	})

	t.Run("missing question", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/chat/stream", token, map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestDocumentEndpoints(t *testing.T) {
	srv, jwtManager := newTestServer(t)
	token, err := jwtManager.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/documents", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Documents []documentResponse `json:"documents"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp.Documents) != 1 || resp.Documents[0].Doc != "doc-1" {
			t.Errorf("Documents = %+v", resp.Documents)
		}
	})

	t.Run("get by doc", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/documents/doc-1", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp documentResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Doc != "doc-1" || resp.Synthesis != "règlement intérieur" {
			t.Errorf("document = %+v", resp)
		}
	})

	t.Run("unknown doc", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/documents/doc-404", token, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		var resp map[string]string
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["error"] != "DOCUMENT_NOT_FOUND" {
			t.Errorf("error = %q, want DOCUMENT_NOT_FOUND", resp["error"])
		}
	})

	t.Run("requires authentication", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/documents", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestSearchEndpoint(t *testing.T) {
	srv, jwtManager := newTestServer(t)
	token, err := jwtManager.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/search", token, map[string]string{
		"question": "code du coffre",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].Doc != "doc-1" {
		t.Errorf("Chunks = %+v", resp.Chunks)
	}
	if resp.Context == "" {
		t.Error("expected packed context")
	}
}

func TestTagsEndpoint(t *testing.T) {
	srv, jwtManager := newTestServer(t)
	token, err := jwtManager.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/tags", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Tags map[string]int `json:"tags"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tags["hr"] != 3 {
		t.Errorf("Tags = %v", resp.Tags)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}
