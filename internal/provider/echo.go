package provider

import (
	"context"
	"strings"
)

// EchoProvider answers every prompt with a fixed transform of the user's
// line. It is deterministic and needs no network, which makes it the
// default for local runs and tests.
type EchoProvider struct {
	id     string
	models []string
}

// NewEchoProvider creates an echo backend serving models.
func NewEchoProvider(id string, models ...string) *EchoProvider {
	if id == "" {
		id = "echo"
	}
	if len(models) == 0 {
		models = []string{"echo"}
	}
	return &EchoProvider{id: id, models: models}
}

func (p *EchoProvider) ID() string       { return p.id }
func (p *EchoProvider) Name() string     { return "Echo" }
func (p *EchoProvider) Models() []string { return p.models }

// Complete returns "I hear you: <input>" where input is the prompt's last
// "User:" line.
func (p *EchoProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := prompt
	if i := strings.LastIndex(prompt, "\nUser: "); i >= 0 {
		input = prompt[i+len("\nUser: "):]
		input = strings.TrimSuffix(input, "\nFlower:")
	}
	return &Completion{Content: "I hear you: " + input, Model: opts.Model}, nil
}

func (p *EchoProvider) HealthCheck(context.Context) error { return nil }
