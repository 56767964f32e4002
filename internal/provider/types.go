// Package provider routes flower prompts to completion backends.
package provider

import (
	"context"
	"time"
)

// Provider is a completion backend.
type Provider interface {
	ID() string
	Name() string
	// Models lists the model identifiers this backend answers for.
	Models() []string
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error)
	HealthCheck(ctx context.Context) error
}

// CompleteOptions tunes a single completion.
type CompleteOptions struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Completion is a backend's answer to a prompt.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"` // openai|anthropic|echo
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}
