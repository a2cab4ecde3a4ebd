package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/middleware"
)

func TestRateLimit(t *testing.T) {
	m := metrics.NewMetrics()
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:  true,
		Requests: 3,
		Window:   time.Minute,
	}, m)

	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/chat", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1234").Code)
	}

	rec := do("10.0.0.1:5678")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, "at most 3 requests per 1m0s", body["details"])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("/api/chat")))

	// Other clients have their own bucket
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234").Code)

	limiter.Reset()
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234").Code)
}
