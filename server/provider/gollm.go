package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/gollm"
)

// Gollm adapts any gollm backend (openai, anthropic, ollama, ...). gollm
// returns plain text, which becomes the single choice of the completion.
type Gollm struct {
	llm     gollm.LLM
	name    string
	timeout time.Duration
}

// NewGollm creates a gollm backend for cfg.Type with cfg.Deployment as
// the model.
func NewGollm(cfg config.ProviderConfig) (*Gollm, error) {
	llm, err := gollm.NewLLM(
		gollm.SetProvider(cfg.Type),
		gollm.SetModel(cfg.Deployment),
		gollm.SetAPIKey(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.Type, err)
	}
	return NewGollmWithLLM(cfg, llm), nil
}

// NewGollmWithLLM wraps an existing gollm.LLM.
func NewGollmWithLLM(cfg config.ProviderConfig, llm gollm.LLM) *Gollm {
	if cfg.Endpoint != "" {
		if e, ok := llm.(interface{ SetEndpoint(string) }); ok {
			e.SetEndpoint(cfg.Endpoint)
		}
	}
	return &Gollm{llm: llm, name: cfg.Type, timeout: cfg.Timeout}
}

// Name implements Provider.
func (g *Gollm) Name() string { return g.name }

// Complete implements Provider. The model is fixed at construction;
// req.Deployment is not re-applied per call.
func (g *Gollm) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := &gollm.Prompt{Messages: make([]gollm.PromptMessage, 0, len(req.Messages))}
	for _, m := range req.Messages {
		prompt.Messages = append(prompt.Messages, gollm.PromptMessage{Role: m.Role, Content: m.Content})
	}

	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Completion{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: text}}}}, nil
}
