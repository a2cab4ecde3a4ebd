// Package circuitbreaker wraps sony/gobreaker with Prometheus metrics and
// zap logging of state transitions.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through in half-open state
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Period of the open state before half-open
	FailureThreshold uint32        // Consecutive failures before tripping
}

// Metrics are shared by every breaker created against the same registry.
// Series are labeled by breaker name.
type Metrics struct {
	state    *prometheus.GaugeVec
	failures *prometheus.CounterVec
	trips    *prometheus.CounterVec
}

// NewMetrics registers the breaker collectors. A nil registerer yields
// unregistered collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatrelay_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by the circuit breaker",
		}, []string{"name"}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_circuit_breaker_trips_total",
			Help: "Total number of times the circuit breaker has tripped",
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.failures, m.trips)
	}
	return m
}

// CircuitBreaker guards calls to a single upstream.
type CircuitBreaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics
}

// NewCircuitBreaker creates a new circuit breaker. metrics may be nil.
func NewCircuitBreaker(cfg Config, logger *zap.Logger, metrics *Metrics) (*CircuitBreaker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("circuit breaker name is required")
	}
	if cfg.FailureThreshold == 0 {
		return nil, fmt.Errorf("circuit breaker %s: failure threshold must be positive", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	b := &CircuitBreaker{
		name:    cfg.Name,
		logger:  logger,
		metrics: metrics,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: b.onStateChange,
		IsSuccessful:  isSuccessful,
	})
	b.metrics.state.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return b, nil
}

// A caller hanging up says nothing about the upstream's health.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Called by gobreaker with its lock held: must not call back into b.cb.
func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.metrics.state.WithLabelValues(name).Set(float64(to))
	if to == gobreaker.StateOpen {
		b.metrics.trips.WithLabelValues(name).Inc()
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs fn if the breaker allows it. While open it returns
// ErrCircuitOpen without calling fn.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrTooManyRequests) && !isSuccessful(err) {
		b.metrics.failures.WithLabelValues(b.name).Inc()
	}
	return err
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the request counts of the current generation
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
