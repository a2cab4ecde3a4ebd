package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// MockLLM implements gollm.LLM for tests. Generate delegates to
// GenerateFunc and records the prompts it receives.
//
//	mockLLM := NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
//	    return "<p>Take a breath.</p>", nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	Provider     string
	Model        string

	mu       sync.Mutex
	prompts  []*gollm.Prompt
	endpoint string
}

// NewMockLLM creates a new MockLLM. A nil generateFunc makes Generate
// return an empty string.
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return NewMockLLMWithConfig("mock", "mock-model", generateFunc)
}

// NewMockLLMWithConfig creates a new MockLLM with specific provider and model names
func NewMockLLMWithConfig(provider, model string, generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     provider,
		Model:        model,
	}
}

// Generate records prompt and calls GenerateFunc.
func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

// Prompts returns the prompts passed to Generate so far.
func (m *MockLLM) Prompts() []*gollm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*gollm.Prompt(nil), m.prompts...)
}

// Endpoint returns the last value given to SetEndpoint.
func (m *MockLLM) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

func (m *MockLLM) Debug(format string, args ...interface{}) {}

func (m *MockLLM) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return []byte(`{}`), nil
}

func (m *MockLLM) GetProvider() string { return m.Provider }

func (m *MockLLM) GetModel() string { return m.Model }

func (m *MockLLM) GetLogLevel() gollm.LogLevel { return gollm.LogLevelInfo }

func (m *MockLLM) UpdateLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) SetLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) GetLogger() utils.Logger { return nil }

func (m *MockLLM) NewPrompt(text string) *gollm.Prompt {
	return &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: text},
		},
	}
}

func (m *MockLLM) SetEndpoint(endpoint string) {
	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()
}

func (m *MockLLM) SetOption(key string, value interface{}) {}

func (m *MockLLM) SupportsJSONSchema() bool { return false }

func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt *gollm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return m.Generate(ctx, prompt, opts...)
}

func (m *MockLLM) SetOllamaEndpoint(endpoint string) error { return nil }

func (m *MockLLM) SetSystemPrompt(prompt string, cacheType llm.CacheType) {}
