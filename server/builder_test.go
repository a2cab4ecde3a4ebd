package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/mocks"
	"github.com/teilomillet/chatrelay/server/provider"
	"github.com/teilomillet/chatrelay/server/relay"
	"go.uber.org/zap/zaptest"
)

func TestRelayBuilderMissingSettings(t *testing.T) {
	b := NewRelayBuilder(zaptest.NewLogger(t), nil)
	b.NewProvider = func(config.ProviderConfig) (provider.Provider, error) {
		t.Fatal("provider must not be created without settings")
		return nil, nil
	}

	cfg := testConfig()
	cfg.Provider.Endpoint = ""
	r, err := b.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{config.EnvEndpoint}, r.Missing())
}

func TestRelayBuilderDedupe(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	p := mocks.NewMockProvider(func(ctx context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
		started <- struct{}{}
		<-release
		return &provider.Completion{Choices: []provider.Choice{
			{Message: provider.Message{Role: provider.RoleAssistant, Content: "shared"}},
		}}, nil
	})

	m := metrics.NewMetrics()
	b := NewRelayBuilder(zaptest.NewLogger(t), m)
	b.NewProvider = factoryFor(p)

	cfg := testConfig()
	cfg.Relay.DedupeInflight = true
	r, err := b.Build(cfg)
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*relay.Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Handle(context.Background(), relay.ChatRequest{Message: "same question"})
		}(i)
	}

	<-started
	// Give the other callers time to join the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.Calls())
	for _, resp := range results {
		assert.Equal(t, `{"reply":"shared","isHtml":true}`, string(resp.Body))
	}
	assert.Equal(t, float64(callers), testutil.ToFloat64(m.RepliesTotal.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, float64(callers), testutil.ToFloat64(m.DeduplicatedRequests))
}

func TestRelayBuilderReusesBreakerMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	b := NewRelayBuilder(zaptest.NewLogger(t), m)
	b.NewProvider = factoryFor(mocks.NewReplyProvider("ok"))

	cfg := testConfig()
	cfg.CircuitBreaker.Enabled = true

	// Building twice must not register the breaker collectors twice
	_, err := b.Build(cfg)
	require.NoError(t, err)
	_, err = b.Build(cfg)
	require.NoError(t, err)
}
