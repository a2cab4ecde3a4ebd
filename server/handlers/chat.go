// Package handlers provides the HTTP handlers of the relay server.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/middleware"
	"github.com/teilomillet/chatrelay/server/relay"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds the request body read by ChatHandler.
const MaxBodyBytes int64 = 10 << 20

// ChatHandler serves chat requests through the current relay. The relay
// can be swapped while requests are in flight.
type ChatHandler struct {
	relay  atomic.Pointer[relay.Relay]
	logger *zap.Logger
}

// NewChatHandler creates a handler serving r.
func NewChatHandler(r *relay.Relay, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{logger: logger}
	h.relay.Store(r)
	return h
}

// SetRelay replaces the relay used by subsequent requests.
func (h *ChatHandler) SetRelay(r *relay.Relay) {
	h.relay.Store(r)
}

// Relay returns the relay currently in use.
func (h *ChatHandler) Relay() *relay.Relay {
	return h.relay.Load()
}

// ServeHTTP implements http.Handler. A body that cannot be read or
// decoded is treated as a request without message.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			relayErr := errors.NewRequestTooLargeError(maxErr.Limit)
			errors.LogError(h.logger, relayErr, middleware.GetRequestID(r.Context()))
			errors.WriteError(w, relayErr)
			return
		}
		h.logger.Debug("Failed to read request body", zap.Error(err))
		body = nil
	}

	ctx := relay.WithRequestID(r.Context(), middleware.GetRequestID(r.Context()))
	h.relay.Load().Handle(ctx, relay.DecodeRequest(body)).Write(w)
}

// Preflight answers CORS preflight requests with 200 and no body.
func Preflight(w http.ResponseWriter, r *http.Request) {
	for k, vs := range relay.CORSHeaders() {
		w.Header()[k] = vs
	}
	w.WriteHeader(http.StatusOK)
}

// HealthStatus is the body written by Health.
type HealthStatus struct {
	Status  string   `json:"status"`
	Missing []string `json:"missing,omitempty"`
}

// Health reports liveness and which provider settings are absent. It
// never calls the provider and always answers 200: a relay without
// settings is running, it just fails every chat request.
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "ok", Missing: h.relay.Load().Missing()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("Failed to encode health status", zap.Error(err))
	}
}

// NotFound writes the standard failure body with 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	errors.WriteError(w, errors.NewNotFoundError(r.URL.Path))
}

// MethodNotAllowed writes the standard failure body with 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	errors.WriteError(w, errors.NewMethodNotAllowedError(r.Method))
}
