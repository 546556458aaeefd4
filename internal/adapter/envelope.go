// Package adapter is the only code allowed to know harness-specific payload
// shapes. It validates wire envelopes, translates them into neutral runtime
// events, and renders neutral decisions back into harness hook responses.
package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one framed line received from the hook forwarder.
type Request struct {
	RequestID     string          `json:"request_id"`
	TS            int64           `json:"ts"`
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Response is the single framed line written back for a resolved request.
type Response struct {
	RequestID string          `json:"request_id"`
	TS        int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrInvalidEnvelope marks envelope-shape violations. The transport treats
// any wrapped instance as a protocol error and closes the connection.
var ErrInvalidEnvelope = errors.New("invalid request envelope")

// ParseRequest decodes and validates one request line. Anything that fails
// here must be answered by dropping the connection, never by a reply.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate enforces the envelope shape: required identity fields, a positive
// timestamp, and a payload that is absent, null, or a JSON object.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: missing request_id", ErrInvalidEnvelope)
	}
	if r.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEnvelope)
	}
	if r.HookEventName == "" {
		return fmt.Errorf("%w: missing hook_event_name", ErrInvalidEnvelope)
	}
	if r.TS <= 0 {
		return fmt.Errorf("%w: missing ts", ErrInvalidEnvelope)
	}
	if len(r.Payload) > 0 {
		trimmed := bytes.TrimSpace(r.Payload)
		if !bytes.Equal(trimmed, []byte("null")) && (len(trimmed) == 0 || trimmed[0] != '{') {
			return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidEnvelope)
		}
		if !json.Valid(trimmed) {
			return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEnvelope)
		}
	}
	return nil
}
