package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/repository"
	"github.com/mbellec/quarry/internal/vectorstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM replays canned responses in order; the last one repeats.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []string
	limit     int
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return response, nil
}

func (f *fakeLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeLLM) ContextLimit() int {
	return f.limit
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEmbedder struct {
	err    error
	inputs []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeResolver struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeResolver) FilteredDocIDs(context.Context, string, []string, []string) ([]string, error) {
	f.calls++
	return f.ids, f.err
}

type storeCall struct {
	tenant string
	opts   vectorstore.SearchOptions
}

type fakeStore struct {
	hits  []vectorstore.Hit
	err   error
	calls []storeCall
}

func (f *fakeStore) Search(_ context.Context, tenant string, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.Hit, error) {
	f.calls = append(f.calls, storeCall{tenant: tenant, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakePrompts struct {
	prompts map[string]string
}

func (f *fakePrompts) GetByName(_ context.Context, name string) (*repository.Prompt, error) {
	text, ok := f.prompts[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.Prompt{Name: name, Prompt: text}, nil
}

// rerankPrompts returns a prompt store holding a minimal scoring template.
func rerankPrompts() *fakePrompts {
	return &fakePrompts{prompts: map[string]string{
		rerankTemplate: "Question: {question}\n\nChunks:\n{context}",
	}}
}

type fixedLimit int

func (l fixedLimit) ContextLimit() int { return int(l) }
