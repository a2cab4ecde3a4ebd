package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/chatrelay/server/provider"
)

// MockProvider implements provider.Provider with a configurable
// CompleteFunc and records every request.
type MockProvider struct {
	CompleteFunc func(context.Context, provider.CompletionRequest) (*provider.Completion, error)
	ProviderName string

	mu       sync.Mutex
	requests []provider.CompletionRequest
}

var _ provider.Provider = (*MockProvider)(nil)

// NewMockProvider returns a provider answering every call with fn.
func NewMockProvider(fn func(context.Context, provider.CompletionRequest) (*provider.Completion, error)) *MockProvider {
	return &MockProvider{CompleteFunc: fn, ProviderName: "mock"}
}

// NewReplyProvider returns a provider that always answers with a single
// choice carrying content.
func NewReplyProvider(content string) *MockProvider {
	return NewMockProvider(func(context.Context, provider.CompletionRequest) (*provider.Completion, error) {
		return &provider.Completion{Choices: []provider.Choice{
			{Message: provider.Message{Role: provider.RoleAssistant, Content: content}},
		}}, nil
	})
}

// NewFailingProvider returns a provider that always fails with err.
func NewFailingProvider(err error) *MockProvider {
	return NewMockProvider(func(context.Context, provider.CompletionRequest) (*provider.Completion, error) {
		return nil, err
	})
}

// Complete implements provider.Provider.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc == nil {
		return &provider.Completion{}, nil
	}
	return m.CompleteFunc(ctx, req)
}

// Name implements provider.Provider.
func (m *MockProvider) Name() string { return m.ProviderName }

// Requests returns the requests received so far.
func (m *MockProvider) Requests() []provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.CompletionRequest(nil), m.requests...)
}

// Calls returns how many times Complete was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
