// Package metrics holds the Prometheus collectors shared by the HTTP
// surface, the relay and the provider decorators.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply outcomes recorded in RepliesTotal.
const (
	OutcomeSuccess           = "success"
	OutcomeConfiguration     = "configuration"
	OutcomeProvider          = "provider"
	OutcomeMalformedResponse = "malformed_response"
	OutcomeInternal          = "internal"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	RepliesTotal         *prometheus.CounterVec
	ProviderDuration     prometheus.Histogram
	ProviderErrors       *prometheus.CounterVec
	DeduplicatedRequests prometheus.Counter
	PromptTokens         prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatrelay_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_rate_limit_hits_total",
				Help: "Total number of rate limited requests by endpoint",
			},
			[]string{"endpoint"},
		),
		RepliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_replies_total",
				Help: "Chat replies by outcome",
			},
			[]string{"outcome"},
		),
		ProviderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatrelay_provider_duration_seconds",
				Help:    "Duration of chat completion calls to the provider",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
			},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_provider_errors_total",
				Help: "Provider failures by class",
			},
			[]string{"class"},
		),
		DeduplicatedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatrelay_deduplicated_requests_total",
				Help: "Number of requests that shared an in-flight provider call",
			},
		),
		PromptTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatrelay_prompt_tokens",
				Help:    "Prompt size in tokens",
				Buckets: prometheus.ExponentialBuckets(16, 2, 10),
			},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Expose every outcome from the first scrape
	for _, outcome := range []string{OutcomeSuccess, OutcomeConfiguration, OutcomeProvider, OutcomeMalformedResponse, OutcomeInternal} {
		m.RepliesTotal.WithLabelValues(outcome).Add(0)
	}

	return m
}

// Registerer lets other components register their collectors on the
// same registry.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
