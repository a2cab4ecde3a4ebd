package relay

import (
	"encoding/json"
	"net/http"

	"github.com/teilomillet/chatrelay/errors"
)

// ChatRequest is the inbound payload. Message is optional; an empty one
// is replaced by the configured fallback.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is the success body.
type ChatReply struct {
	Reply  string `json:"reply"`
	IsHTML bool   `json:"isHtml,omitempty"`
}

// Response is the transport-neutral result of Handle. Exactly one of the
// success and failure bodies is encoded in Body; Err is set on failure.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        *errors.RelayError
}

// Write copies the response onto w. Its headers replace any already
// set under the same name.
func (r *Response) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// DecodeRequest reads a ChatRequest from a raw body. Bodies that are
// empty, not JSON, or carry a non-string message decode to the zero
// request, which Handle treats as an absent message.
func DecodeRequest(body []byte) ChatRequest {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}
	}
	return req
}

// CORSHeaders are set on every relay response and on preflight answers.
func CORSHeaders() http.Header {
	return http.Header{
		"Access-Control-Allow-Origin":  {"*"},
		"Access-Control-Allow-Methods": {"POST, OPTIONS"},
		"Access-Control-Allow-Headers": {"Content-Type"},
	}
}
