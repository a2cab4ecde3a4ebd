package server

import (
	"fmt"

	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/circuitbreaker"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/provider"
	"github.com/teilomillet/chatrelay/server/relay"
	"go.uber.org/zap"
)

// ProviderFactory creates the base provider for a configuration.
type ProviderFactory func(config.ProviderConfig) (provider.Provider, error)

// RelayBuilder assembles a relay and its provider decorators from a
// configuration. One builder is reused across config reloads so metric
// collectors are registered only once.
type RelayBuilder struct {
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	BreakerMetrics *circuitbreaker.Metrics
	NewProvider    ProviderFactory
}

// NewRelayBuilder creates a builder using provider.New. m may be nil.
func NewRelayBuilder(logger *zap.Logger, m *metrics.Metrics) *RelayBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RelayBuilder{
		Logger:      logger,
		Metrics:     m,
		NewProvider: provider.New,
	}
	if m != nil {
		b.BreakerMetrics = circuitbreaker.NewMetrics(m.Registerer())
	}
	return b
}

// Build creates a relay for cfg. Missing provider settings are not an
// error: the relay is built without a provider and reports them on
// every request.
func (b *RelayBuilder) Build(cfg *config.Config) (*relay.Relay, error) {
	var opts []relay.Option
	if b.Metrics != nil {
		opts = append(opts, relay.WithMetrics(b.Metrics))
	}
	if cfg.Relay.CountTokens {
		counter, err := relay.NewTokenCounter(cfg.Provider.Deployment)
		if err != nil {
			b.Logger.Warn("Token counting disabled", zap.Error(err))
		} else {
			opts = append(opts, relay.WithTokenizer(counter))
		}
	}

	if missing := cfg.Provider.Missing(); len(missing) > 0 {
		b.Logger.Warn("Provider settings missing, chat requests will fail until they are set",
			zap.Strings("missing", missing))
		return relay.New(cfg, nil, b.Logger, opts...)
	}

	p, err := b.provider(cfg)
	if err != nil {
		return nil, err
	}

	b.Logger.Info("Relay configured",
		zap.String("provider", p.Name()),
		zap.String("deployment", cfg.Provider.Deployment),
		zap.Bool("persona", cfg.Relay.Persona),
		zap.Bool("circuit_breaker", cfg.CircuitBreaker.Enabled),
		zap.Bool("dedupe_inflight", cfg.Relay.DedupeInflight),
	)
	return relay.New(cfg, p, b.Logger, opts...)
}

// provider wraps the base provider, innermost first: breaker, metrics,
// then singleflight so shared calls are observed once.
func (b *RelayBuilder) provider(cfg *config.Config) (provider.Provider, error) {
	newProvider := b.NewProvider
	if newProvider == nil {
		newProvider = provider.New
	}
	p, err := newProvider(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	if cfg.CircuitBreaker.Enabled {
		cb, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
			Name:             p.Name(),
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		}, b.Logger, b.BreakerMetrics)
		if err != nil {
			return nil, fmt.Errorf("create circuit breaker: %w", err)
		}
		p = provider.WithBreaker(p, cb)
	}

	if b.Metrics != nil {
		p = provider.WithMetrics(p, b.Metrics, b.Logger)
	}

	if cfg.Relay.DedupeInflight {
		p = provider.WithSingleflight(p, b.Metrics)
	}
	return p, nil
}
