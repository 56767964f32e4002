package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

type failingProvider struct{ err error }

func (p *failingProvider) ID() string       { return "broken" }
func (p *failingProvider) Name() string     { return "Broken" }
func (p *failingProvider) Models() []string { return []string{"gpt-4"} }
func (p *failingProvider) Complete(context.Context, string, CompleteOptions) (*Completion, error) {
	return nil, p.err
}
func (p *failingProvider) HealthCheck(context.Context) error { return p.err }

func testFlower(model string) *flower.Flower {
	return &flower.Flower{
		ID: "companion_abc123",
		Genome: flower.Genome{
			BaseModel:    model,
			Temperature:  0.7,
			SystemPrompt: "Be kind.",
			Traits:       []string{"creative", "melancholic"},
		},
		State: flower.State{CurrentMood: flower.MoodNeutral, EnergyLevel: 1, Coherence: 1},
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(testFlower("gpt-4"), "ctx line", "hello")
	want := "Be kind.\n\n" +
		"You are a flower with the following traits: creative, melancholic\n" +
		"Current mood: neutral\n" +
		"Energy level: 1\n" +
		"\nContext:\nctx line\n\n" +
		"User: hello\n" +
		"Flower:"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRouteUnknownModel(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(NewEchoProvider("echo", "gpt-4"))

	_, err := r.Route(context.Background(), testFlower("llama"), "", "hi")
	if !errors.Is(err, flower.ErrProviderNotFound) {
		t.Fatalf("got %v, want ErrProviderNotFound", err)
	}
}

func TestRouteEcho(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(NewEchoProvider("echo", "gpt-4", "claude-3"))

	c, err := r.Route(context.Background(), testFlower("claude-3"), "state", "how are you")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if c.Content != "I hear you: how are you" {
		t.Fatalf("got %q", c.Content)
	}
	if c.Model != "claude-3" {
		t.Fatalf("got model %q, want claude-3", c.Model)
	}
}

func TestRouteWrapsBackendError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRouter(zap.NewNop())
	r.Register(&failingProvider{err: boom})

	_, err := r.Route(context.Background(), testFlower("gpt-4"), "", "hi")
	var pe *flower.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("got %T, want *flower.ProviderError", err)
	}
	if pe.Provider != "broken" || !errors.Is(err, boom) {
		t.Fatalf("unexpected provider error: %v", pe)
	}
}

func TestBindUnknownProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if err := r.Bind("gpt-4", "nope"); !errors.Is(err, flower.ErrProviderNotFound) {
		t.Fatalf("got %v, want ErrProviderNotFound", err)
	}
	r.Register(NewEchoProvider("echo"))
	if err := r.Bind("gpt-4", "echo"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p, ok := r.Resolve("gpt-4"); !ok || p.ID() != "echo" {
		t.Fatalf("gpt-4 not bound to echo")
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","model":"gpt-4","choices":[{"message":{"role":"assistant","content":"petals"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "openai", Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	c, err := p.Complete(context.Background(), "prompt", CompleteOptions{Model: "gpt-4", Temperature: 0.4})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Content != "petals" || c.Usage.TotalTokens != 4 {
		t.Fatalf("got %+v", c)
	}
	if got.Temperature != 0.4 || len(got.Messages) != 1 || got.Messages[0].Content != "prompt" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "openai", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Complete(context.Background(), "prompt", CompleteOptions{Model: "gpt-4"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("got %v, want API error 429", err)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing version header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"m","model":"claude-3-5-haiku","content":[{"type":"text","text":"soft "},{"type":"text","text":"rain"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{
		ID:       "anthropic",
		Endpoint: srv.URL,
		Extra:    map[string]string{"model:claude-3": "claude-3-5-haiku"},
	}, zap.NewNop())

	c, err := p.Complete(context.Background(), "prompt", CompleteOptions{Model: "claude-3", Temperature: 0.9})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Content != "soft rain" || c.Usage.TotalTokens != 7 {
		t.Fatalf("got %+v", c)
	}
	if got.Model != "claude-3-5-haiku" || got.MaxTokens != 4096 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	p, err := New(ProviderConfig{ID: "local", Type: "echo", Models: []string{"gpt-4"}}, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.ID() != "local" || p.Models()[0] != "gpt-4" {
		t.Fatalf("got %s %v", p.ID(), p.Models())
	}
	if _, err := New(ProviderConfig{Type: "carrier-pigeon"}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
