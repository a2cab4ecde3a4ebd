package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/provider"
)

type capturedRequest struct {
	Path       string
	APIVersion string
	APIKey     string
	Body       struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func newAzureServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Path = r.URL.Path
			captured.APIVersion = r.URL.Query().Get("api-version")
			captured.APIKey = r.Header.Get("api-key")
			_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func azureConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Type:       "azure",
		Endpoint:   endpoint,
		APIKey:     "test-key",
		Deployment: "coach-gpt-4.1",
		APIVersion: "2024-06-01",
		Timeout:    5 * time.Second,
	}
}

func TestAzureComplete(t *testing.T) {
	var captured capturedRequest
	srv := newAzureServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"choices": [
			{"index": 0, "message": {"role": "assistant", "content": "<p>Hi!</p>"}, "finish_reason": "stop"},
			{"index": 1, "message": {"role": "assistant", "content": "second"}, "finish_reason": "stop"}
		]
	}`, &captured)

	p, err := provider.New(azureConfig(srv.URL + "/"))
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Name())

	c, err := p.Complete(context.Background(), provider.CompletionRequest{
		Deployment: "coach-gpt-4.1",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Be kind."},
			{Role: provider.RoleUser, Content: "Hello"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/coach-gpt-4.1/chat/completions", captured.Path)
	assert.Equal(t, "2024-06-01", captured.APIVersion)
	assert.Equal(t, "test-key", captured.APIKey)
	require.Len(t, captured.Body.Messages, 2)
	assert.Equal(t, "system", captured.Body.Messages[0].Role)
	assert.Equal(t, "Be kind.", captured.Body.Messages[0].Content)
	assert.Equal(t, "user", captured.Body.Messages[1].Role)
	assert.Equal(t, "Hello", captured.Body.Messages[1].Content)

	require.Len(t, c.Choices, 2)
	assert.Equal(t, "<p>Hi!</p>", c.Choices[0].Message.Content)
	assert.Equal(t, "second", c.Choices[1].Message.Content)
}

func TestAzureEmptyChoices(t *testing.T) {
	srv := newAzureServer(t, http.StatusOK, `{"id": "chatcmpl-2", "choices": []}`, nil)

	p, err := provider.New(azureConfig(srv.URL))
	require.NoError(t, err)

	c, err := p.Complete(context.Background(), provider.CompletionRequest{
		Deployment: "coach-gpt-4.1",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Empty(t, c.Choices)
}

func TestAzureErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantText  string
		wantClass provider.Class
	}{
		{
			name:      "invalid key",
			status:    http.StatusUnauthorized,
			body:      `{"error": {"code": "401", "message": "Access denied due to invalid subscription key."}}`,
			wantText:  "Access denied due to invalid subscription key.",
			wantClass: provider.ClassAuth,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error": {"code": "429", "message": "Requests to the deployment have exceeded the rate limit."}}`,
			wantText:  "exceeded the rate limit",
			wantClass: provider.ClassRateLimit,
		},
		{
			name:      "unknown deployment",
			status:    http.StatusNotFound,
			body:      `{"error": {"code": "DeploymentNotFound", "message": "The API deployment for this resource does not exist."}}`,
			wantText:  "does not exist",
			wantClass: provider.ClassNotFound,
		},
		{
			name:      "non-json server error",
			status:    http.StatusBadGateway,
			body:      `upstream exploded`,
			wantText:  "502",
			wantClass: provider.ClassServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAzureServer(t, tt.status, tt.body, nil)
			p, err := provider.New(azureConfig(srv.URL))
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), provider.CompletionRequest{
				Deployment: "coach-gpt-4.1",
				Messages:   []provider.Message{{Role: provider.RoleUser, Content: "Hello"}},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantText)
			assert.Equal(t, tt.wantClass, provider.Classify(err))
		})
	}
}

func TestAzureTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := azureConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	p, err := provider.New(cfg)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), provider.CompletionRequest{
		Deployment: "coach-gpt-4.1",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Equal(t, provider.ClassTimeout, provider.Classify(err))
	// No retries
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewRequiresSettings(t *testing.T) {
	_, err := provider.New(config.ProviderConfig{Type: "azure", Endpoint: "https://x.openai.azure.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
	assert.Contains(t, err.Error(), config.EnvAPIKey)
	assert.Contains(t, err.Error(), config.EnvDeployment)
}
