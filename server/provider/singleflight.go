package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/teilomillet/chatrelay/server/metrics"
	"golang.org/x/sync/singleflight"
)

type singleflightProvider struct {
	next    Provider
	group   singleflight.Group
	metrics *metrics.Metrics
}

// WithSingleflight collapses identical concurrent calls (same deployment
// and message sequence) into one upstream request. m may be nil.
func WithSingleflight(p Provider, m *metrics.Metrics) Provider {
	return &singleflightProvider{next: p, metrics: m}
}

func (s *singleflightProvider) Name() string { return s.next.Name() }

func (s *singleflightProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	// The shared call must outlive the first caller's cancellation.
	v, err, shared := s.group.Do(requestKey(req), func() (interface{}, error) {
		return s.next.Complete(context.WithoutCancel(ctx), req)
	})
	if shared && s.metrics != nil {
		s.metrics.DeduplicatedRequests.Inc()
	}
	if err != nil {
		return nil, err
	}
	return cloneCompletion(v.(*Completion)), nil
}

func requestKey(req CompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Deployment))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Each caller gets its own copy of the shared result.
func cloneCompletion(c *Completion) *Completion {
	if c == nil {
		return nil
	}
	out := &Completion{Choices: make([]Choice, len(c.Choices))}
	copy(out.Choices, c.Choices)
	return out
}
