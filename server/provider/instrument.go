package provider

import (
	"context"
	"time"

	"github.com/teilomillet/chatrelay/server/metrics"
	"go.uber.org/zap"
)

type instrumentedProvider struct {
	next    Provider
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// WithMetrics records call latency and failure classes for p. Either
// argument after p may be nil.
func WithMetrics(p Provider, m *metrics.Metrics, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumentedProvider{next: p, metrics: m, logger: logger}
}

func (i *instrumentedProvider) Name() string { return i.next.Name() }

func (i *instrumentedProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	start := time.Now()
	c, err := i.next.Complete(ctx, req)
	elapsed := time.Since(start)

	if i.metrics != nil {
		i.metrics.ProviderDuration.Observe(elapsed.Seconds())
	}
	if err != nil {
		class := Classify(err)
		if i.metrics != nil {
			i.metrics.ProviderErrors.WithLabelValues(string(class)).Inc()
		}
		i.logger.Warn("Provider call failed",
			zap.String("provider", i.next.Name()),
			zap.String("class", string(class)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	var choices int
	if c != nil {
		choices = len(c.Choices)
	}
	i.logger.Debug("Provider call completed",
		zap.String("provider", i.next.Name()),
		zap.Int("choices", choices),
		zap.Duration("duration", elapsed),
	)
	return c, nil
}
