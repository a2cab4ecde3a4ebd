package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/mocks"
	"github.com/teilomillet/chatrelay/server/provider"
	"github.com/teilomillet/gollm"
)

func TestGollmComplete(t *testing.T) {
	mockLLM := mocks.NewMockLLMWithConfig("ollama", "llama3", func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		return "<p>Let's talk.</p>", nil
	})

	cfg := config.ProviderConfig{Type: "ollama", Endpoint: "http://localhost:11434", Deployment: "llama3"}
	p := provider.NewGollmWithLLM(cfg, mockLLM)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "http://localhost:11434", mockLLM.Endpoint())

	c, err := p.Complete(context.Background(), provider.CompletionRequest{
		Deployment: "llama3",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Be kind."},
			{Role: provider.RoleUser, Content: "Hello"},
		},
	})
	require.NoError(t, err)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "<p>Let's talk.</p>", c.Choices[0].Message.Content)
	assert.Equal(t, provider.RoleAssistant, c.Choices[0].Message.Role)

	prompts := mockLLM.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, []gollm.PromptMessage{
		{Role: "system", Content: "Be kind."},
		{Role: "user", Content: "Hello"},
	}, prompts[0].Messages)
}

func TestGollmError(t *testing.T) {
	mockLLM := mocks.NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		return "", errors.New("API error: invalid api key")
	})
	p := provider.NewGollmWithLLM(config.ProviderConfig{Type: "openai"}, mockLLM)

	_, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Equal(t, "API error: invalid api key", err.Error())
}

func TestGollmTimeout(t *testing.T) {
	mockLLM := mocks.NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p := provider.NewGollmWithLLM(config.ProviderConfig{Type: "openai", Timeout: 20 * time.Millisecond}, mockLLM)

	_, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "Hello"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, provider.ClassTimeout, provider.Classify(err))
}
