package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/teilomillet/chatrelay/server/circuitbreaker"
)

type breakerProvider struct {
	next Provider
	cb   *circuitbreaker.CircuitBreaker
}

// WithBreaker runs every call of p through cb. While the breaker is open
// calls fail fast with an error wrapping ErrUnavailable.
func WithBreaker(p Provider, cb *circuitbreaker.CircuitBreaker) Provider {
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Name() string { return b.next.Name() }

func (b *breakerProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var out *Completion
	err := b.cb.Execute(func() error {
		c, err := b.next.Complete(ctx, req)
		out = c
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, b.cb.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
