// Package provider talks to the upstream chat-completion service.
//
// A Provider turns an ordered list of role-tagged messages into a
// completion. Backends adapt concrete SDKs (go-openai for Azure OpenAI,
// gollm for everything else) and decorators add a circuit breaker,
// in-flight de-duplication and metrics without the relay knowing.
package provider

import (
	"context"
	"fmt"

	"github.com/teilomillet/chatrelay/config"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	// Deployment names the deployment (Azure) or model to run
	Deployment string
	Messages   []Message
}

// Choice is one generated alternative.
type Choice struct {
	Message Message
}

// Completion is the provider's answer. Choices may be empty; callers
// decide whether that is an error.
type Completion struct {
	Choices []Choice
}

// Provider performs chat completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// New builds the backend selected by cfg.Type. It fails when required
// settings are missing; callers check cfg.Missing first when that is
// not a startup error.
func New(cfg config.ProviderConfig) (Provider, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, missing)
	}

	switch cfg.Type {
	case "", "azure":
		return NewAzure(cfg), nil
	default:
		return NewGollm(cfg)
	}
}
