// Package relay implements the chat relay: one inbound message becomes
// one chat-completion call, and its outcome becomes exactly one reply or
// one failure body.
//
// A Relay holds no per-request state. It is built once from an explicit
// config.Config and a provider.Provider and is safe for concurrent use.
// Transport adapters (the HTTP handler, the API Gateway adapter) decode
// the request with DecodeRequest, call Handle and copy the Response out.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/provider"
	"go.uber.org/zap"
)

// RedactedDetails replaces provider failure text when error details are
// not exposed to clients.
const RedactedDetails = "upstream provider request failed"

// Relay turns chat requests into provider calls.
type Relay struct {
	provider   provider.Provider
	settings   config.ProviderConfig
	opts       config.RelayConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tokenizer  Tokenizer
	system     string
	deployment string
}

// Option customizes a Relay.
type Option func(*Relay)

// WithMetrics records reply outcomes and prompt sizes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithTokenizer enables prompt token accounting. The count is logged and
// observed, never used to reject a request.
func WithTokenizer(t Tokenizer) Option {
	return func(r *Relay) { r.tokenizer = t }
}

// New creates a Relay. p may be nil only when cfg is missing provider
// settings, in which case every request fails with a configuration error.
func New(cfg *config.Config, p provider.Provider, logger *zap.Logger, opts ...Option) (*Relay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p == nil && len(cfg.Provider.Missing()) == 0 {
		return nil, fmt.Errorf("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Relay{
		provider:   p,
		settings:   cfg.Provider,
		opts:       cfg.Relay,
		logger:     logger,
		deployment: cfg.Provider.Deployment,
	}
	if cfg.Relay.Persona {
		r.system = cfg.Relay.EffectiveSystemPrompt()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle processes one request. It never returns nil and never panics on
// provider failure: every outcome is encoded in the Response.
func (r *Relay) Handle(ctx context.Context, req ChatRequest) *Response {
	requestID := RequestIDFrom(ctx)
	logger := r.logger
	if requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}

	if missing := r.settings.Missing(); len(missing) > 0 {
		return r.fail(requestID, errors.NewConfigurationError(missing), metrics.OutcomeConfiguration)
	}
	logger.Debug("Provider configuration present",
		zap.String("provider", r.provider.Name()),
		zap.String("deployment", r.deployment),
	)

	message := req.Message
	if message == "" {
		message = r.opts.FallbackMessage
	}
	logger.Debug("Received message", zap.String("message", message))

	messages := r.Messages(message)
	r.countTokens(logger, messages)

	completion, err := r.complete(ctx, logger, provider.CompletionRequest{
		Deployment: r.deployment,
		Messages:   messages,
	})
	var panicked *providerPanic
	if stderrors.As(err, &panicked) {
		return r.fail(requestID, r.redact(errors.NewInternalError(err)), metrics.OutcomeInternal)
	}
	if err != nil {
		return r.fail(requestID, r.redact(errors.NewProviderError(err)), metrics.OutcomeProvider)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return r.fail(requestID, r.redact(errors.NewMalformedResponseError("provider returned no choices")), metrics.OutcomeMalformedResponse)
	}

	reply := completion.Choices[0].Message.Content
	logger.Debug("Generated reply", zap.String("reply", reply))

	return r.succeed(requestID, logger, ChatReply{
		Reply:  reply,
		IsHTML: r.opts.Persona && r.opts.HTMLReplies,
	})
}

// providerPanic is a panic recovered from a provider call.
type providerPanic struct {
	value interface{}
}

func (p *providerPanic) Error() string {
	return fmt.Sprintf("provider panic: %v", p.value)
}

// complete calls the provider, turning a panic into an error so every
// request still ends in a failure body.
func (r *Relay) complete(ctx context.Context, logger *zap.Logger, req provider.CompletionRequest) (c *provider.Completion, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic recovered in provider call",
				zap.Any("error", rec),
				zap.ByteString("stacktrace", debug.Stack()),
			)
			c, err = nil, &providerPanic{value: rec}
		}
	}()
	return r.provider.Complete(ctx, req)
}

// Messages returns the ordered sequence sent for message: the persona
// instruction first when persona mode is on, then the user message.
func (r *Relay) Messages(message string) []provider.Message {
	if r.system == "" {
		return []provider.Message{{Role: provider.RoleUser, Content: message}}
	}
	return []provider.Message{
		{Role: provider.RoleSystem, Content: r.system},
		{Role: provider.RoleUser, Content: message},
	}
}

func (r *Relay) countTokens(logger *zap.Logger, messages []provider.Message) {
	if r.tokenizer == nil {
		return
	}
	total := 0
	for _, m := range messages {
		total += r.tokenizer.CountTokens(m.Content)
	}
	logger.Debug("Prompt size", zap.Int("tokens", total))
	if r.metrics != nil {
		r.metrics.PromptTokens.Observe(float64(total))
	}
}

func (r *Relay) redact(err *errors.RelayError) *errors.RelayError {
	if r.opts.ExposeErrorDetails {
		return err
	}
	return err.Redacted(RedactedDetails)
}

func (r *Relay) succeed(requestID string, logger *zap.Logger, reply ChatReply) *Response {
	body, err := encodeJSON(reply)
	if err != nil {
		return r.fail(requestID, errors.NewInternalError(err), "")
	}
	r.observe(metrics.OutcomeSuccess)
	logger.Info("Reply generated", zap.Int("reply_bytes", len(reply.Reply)))
	return &Response{
		StatusCode: http.StatusOK,
		Header:     jsonHeader(),
		Body:       body,
	}
}

// fail logs the unredacted cause: Redacted keeps it for errors.LogError.
func (r *Relay) fail(requestID string, relayErr *errors.RelayError, outcome string) *Response {
	r.observe(outcome)
	errors.LogError(r.logger, relayErr, requestID)

	body, err := encodeJSON(relayErr.Response())
	if err != nil {
		body = []byte(`{"error":"Server error","details":"failed to encode error response"}`)
	}
	return &Response{
		StatusCode: relayErr.Code,
		Header:     jsonHeader(),
		Body:       body,
		Err:        relayErr,
	}
}

func (r *Relay) observe(outcome string) {
	if r.metrics != nil && outcome != "" {
		r.metrics.RepliesTotal.WithLabelValues(outcome).Inc()
	}
}

// Replies are mostly HTML fragments; they are sent without \u003c escaping.
func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func jsonHeader() http.Header {
	h := CORSHeaders()
	h.Set("Content-Type", "application/json")
	return h
}

// Missing reports the required provider settings this relay lacks.
func (r *Relay) Missing() []string {
	return r.settings.Missing()
}
