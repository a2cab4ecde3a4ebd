package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/mocks"
	"github.com/teilomillet/chatrelay/server/provider"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.Endpoint = "https://coach.openai.azure.com"
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.Deployment = "gpt-4o-coach"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func factoryFor(p provider.Provider) ProviderFactory {
	return func(config.ProviderConfig) (provider.Provider, error) { return p, nil }
}

func chat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewServerRequiresConfig(t *testing.T) {
	_, err := NewServer(nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestServerChat(t *testing.T) {
	p := mocks.NewReplyProvider("<p>Ask about their favourite game.</p>")
	s, err := NewServer(testConfig(), zaptest.NewLogger(t), WithProviderFactory(factoryFor(p)))
	require.NoError(t, err)

	w := chat(t, s.Handler(), `{"message":"My son never talks to me"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"reply":"<p>Ask about their favourite game.</p>","isHtml":true}`, w.Body.String())

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o-coach", reqs[0].Deployment)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, provider.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, config.CoachPrompt, reqs[0].Messages[0].Content)
	assert.Equal(t, provider.RoleUser, reqs[0].Messages[1].Role)
}

func TestServerStartsWithoutProviderSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	called := false
	factory := func(config.ProviderConfig) (provider.Provider, error) {
		called = true
		return nil, stderrors.New("must not be called")
	}

	s, err := NewServer(cfg, zaptest.NewLogger(t), WithProviderFactory(factory))
	require.NoError(t, err)
	assert.False(t, called)

	w := chat(t, s.Handler(), `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t,
		`{"error":"Server configuration error","details":"Missing environment variables: AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY, AZURE_OPENAI_DEPLOYMENT_NAME"}`,
		w.Body.String())
}

func TestServerProviderFactoryError(t *testing.T) {
	factory := func(config.ProviderConfig) (provider.Provider, error) {
		return nil, stderrors.New("bad provider")
	}
	_, err := NewServer(testConfig(), zaptest.NewLogger(t), WithProviderFactory(factory))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad provider")
}

func TestServerCircuitBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.Timeout = time.Hour

	p := mocks.NewFailingProvider(stderrors.New("connection refused"))
	s, err := NewServer(cfg, zaptest.NewLogger(t), WithProviderFactory(factoryFor(p)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w := chat(t, s.Handler(), `{"message":"hi"}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	}

	// Open: the provider is no longer called
	w := chat(t, s.Handler(), `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 2, p.Calls())

	var body errors.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Server error", body.Error)
	assert.Contains(t, body.Details, provider.ErrUnavailable.Error())

	families, err := s.Metrics().Gatherer().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["chatrelay_circuit_breaker_state"])
	assert.True(t, names["chatrelay_circuit_breaker_trips_total"])
}

func TestServerReload(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := mocks.NewReplyProvider("first")
	s, err := NewServer(testConfig(), zap.New(core), WithProviderFactory(factoryFor(p)))
	require.NoError(t, err)

	t.Run("relay settings apply", func(t *testing.T) {
		cfg := testConfig()
		cfg.Relay.Persona = false
		cfg.Relay.FallbackMessage = "Hey"
		s.Reload(cfg)

		w := chat(t, s.Handler(), `{}`)
		assert.Equal(t, `{"reply":"first"}`, w.Body.String())

		reqs := p.Requests()
		last := reqs[len(reqs)-1]
		require.Len(t, last.Messages, 1)
		assert.Equal(t, "Hey", last.Messages[0].Content)
		assert.Empty(t, logs.FilterMessage("Server, rate limit and metrics changes require a restart").All())
	})

	t.Run("failed build keeps current relay", func(t *testing.T) {
		s.builder.NewProvider = func(config.ProviderConfig) (provider.Provider, error) {
			return nil, stderrors.New("boom")
		}
		defer func() { s.builder.NewProvider = factoryFor(p) }()

		s.Reload(testConfig())
		assert.Len(t, logs.FilterMessage("Failed to apply new config, keeping current relay").All(), 1)

		w := chat(t, s.Handler(), `{"message":"hi"}`)
		assert.Equal(t, `{"reply":"first"}`, w.Body.String())
	})

	t.Run("listener changes are reported", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.Port = 9999
		s.Reload(cfg)
		assert.Len(t, logs.FilterMessage("Server, rate limit and metrics changes require a restart").All(), 1)
	})

	t.Run("nil config is ignored", func(t *testing.T) {
		before := s.chat.Relay()
		s.Reload(nil)
		assert.Same(t, before, s.chat.Relay())
	})
}

func TestServerStartAndWatch(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = freePort(t)

	p := mocks.NewReplyProvider("hello")
	watcher := mocks.NewMockConfigWatcher(cfg)
	s, err := NewServer(cfg, zaptest.NewLogger(t),
		WithProviderFactory(factoryFor(p)),
		WithConfigWatcher(watcher),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- s.Start(ctx)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "Server failed to start")

	// A reload that drops the credential takes effect on the next request
	updated := testConfig()
	updated.Server.Port = cfg.Server.Port
	updated.Provider.APIKey = ""
	watcher.UpdateConfig(updated)

	require.Eventually(t, func() bool {
		resp, err := http.Post(base+"/api/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body errors.Response
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return resp.StatusCode == http.StatusInternalServerError &&
			body.Details == "Missing environment variables: AZURE_OPENAI_KEY"
	}, 5*time.Second, 50*time.Millisecond, "reload was not applied")

	cancel()
	select {
	case err := <-serverErrChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Server failed to shut down")
	}
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig()
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	s, err := NewServer(cfg, zaptest.NewLogger(t), WithProviderFactory(factoryFor(mocks.NewReplyProvider("x"))))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
}
