package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

// Router resolves a flower's base model to a registered backend.
type Router struct {
	providers map[string]Provider
	models    map[string]string // model -> providerID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider and binds every model it serves. A later
// registration for the same model wins.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	for _, m := range p.Models() {
		r.models[m] = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()), zap.String("name", p.Name()), zap.Strings("models", p.Models()))
}

// Bind routes model to an already registered provider.
func (r *Router) Bind(model, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[providerID]; !ok {
		return fmt.Errorf("bind model %s: provider %s: %w", model, providerID, flower.ErrProviderNotFound)
	}
	r.models[model] = providerID
	return nil
}

// Resolve returns the backend serving model.
func (r *Router) Resolve(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.models[model]
	if !ok {
		return nil, false
	}
	p, ok := r.providers[pid]
	return p, ok
}

// Route builds the prompt for f and asks the backend bound to its base
// model to complete it. There are no fallbacks: a backend failure is
// returned as a *flower.ProviderError.
func (r *Router) Route(ctx context.Context, f *flower.Flower, encoded, input string) (*Completion, error) {
	p, ok := r.Resolve(f.Genome.BaseModel)
	if !ok {
		return nil, fmt.Errorf("route flower %s: model %s: %w", f.ID, f.Genome.BaseModel, flower.ErrProviderNotFound)
	}

	prompt := BuildPrompt(f, encoded, input)
	c, err := p.Complete(ctx, prompt, CompleteOptions{
		Model:       f.Genome.BaseModel,
		Temperature: f.Genome.Temperature,
	})
	if err != nil {
		r.logger.Warn("provider failed",
			zap.String("flower", f.ID), zap.String("provider", p.ID()), zap.Error(err))
		return nil, &flower.ProviderError{Provider: p.ID(), Err: err}
	}
	return c, nil
}

// BuildPrompt renders the single prompt string sent to a backend. The
// trailing "Flower:" anchors the completion.
func BuildPrompt(f *flower.Flower, encoded, input string) string {
	var sb strings.Builder
	sb.WriteString(f.Genome.SystemPrompt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "You are a flower with the following traits: %s\n", strings.Join(f.Genome.Traits, ", "))
	fmt.Fprintf(&sb, "Current mood: %s\n", f.State.CurrentMood)
	fmt.Fprintf(&sb, "Energy level: %g\n", f.State.EnergyLevel)
	sb.WriteString("\nContext:\n")
	sb.WriteString(encoded)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "User: %s\n", input)
	sb.WriteString("Flower:")
	return sb.String()
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}

// New builds a provider from its config.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "echo":
		return NewEchoProvider(cfg.ID, cfg.Models...), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
