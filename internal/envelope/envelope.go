// Package envelope defines the wire payload exchanged between functions.
//
// The JSON shape is a cross-process contract: one side may be produced by a
// different implementation entirely, so field names and the normalization
// rules here are bit-exact and must not drift.
package envelope

import (
	"bytes"
	"encoding/json"

	"github.com/oriys/quasar/internal/session"
)

// Envelope is the wire payload for a single invocation.
//
// Wire contract:
//
//	{
//	  "session":      {"organizationCode": "...", "userId": "..."},
//	  "body":         <any JSON value>,
//	  "taskToken":    "...",           // workflow callback token
//	  "state":        {...},           // workflow step metadata
//	  "stateMachine": {...}            // originating workflow identity
//	}
//
// All fields are optional on the wire.
type Envelope struct {
	Session      *session.Session `json:"session,omitempty"`
	Body         json.RawMessage  `json:"body,omitempty"`
	TaskToken    string           `json:"taskToken,omitempty"`
	State        json.RawMessage  `json:"state,omitempty"`
	StateMachine json.RawMessage  `json:"stateMachine,omitempty"`
}

// IsEmpty reports whether the envelope would serialize to no meaningful
// fields, in which case the invocation is sent with no payload at all.
func (e *Envelope) IsEmpty() bool {
	return e.Session == nil && len(e.Body) == 0 && e.TaskToken == "" &&
		len(e.State) == 0 && len(e.StateMachine) == 0
}

// Encode serializes the envelope, returning nil bytes for an empty envelope
// so the transport omits the payload field entirely.
func (e *Envelope) Encode() ([]byte, error) {
	if e.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(e)
}

// Raw is the loosely-typed inbound form of an envelope, decoded before any
// shape validation runs. Each field keeps its raw JSON so the dispatcher can
// reject malformed shapes with a precise error instead of a decode failure.
type Raw struct {
	Session      json.RawMessage `json:"session"`
	Body         json.RawMessage `json:"body"`
	TaskToken    json.RawMessage `json:"taskToken"`
	State        json.RawMessage `json:"state"`
	StateMachine json.RawMessage `json:"stateMachine"`
}

// DecodeRaw parses an inbound event into its loosely-typed form. A nil or
// empty event decodes to an empty Raw.
func DecodeRaw(event json.RawMessage) (*Raw, error) {
	raw := &Raw{}
	if len(event) == 0 || IsNull(event) {
		return raw, nil
	}
	if !IsObject(event) {
		return nil, &ValidationError{Code: CodeInvalidEvent, Message: "invalid event, must be an object"}
	}
	if err := json.Unmarshal(event, raw); err != nil {
		return nil, &ValidationError{Code: CodeInvalidEvent, Message: "invalid event: " + err.Error()}
	}
	return raw, nil
}

// NormalizeBody maps absent-equivalent bodies to nil: a missing value, JSON
// null, and an empty JSON object all mean "no body". Everything else,
// including an empty array, is a body.
func NormalizeBody(body json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || IsNull(trimmed) {
		return nil
	}
	if isEmptyObject(trimmed) {
		return nil
	}
	return body
}

// ExpandBodies prepares the fan-out body axis: a nil list contributes a
// single implicit nil element, as does an explicitly empty list (exactly one
// invocation with no body). Each element is normalized.
func ExpandBodies(bodies []json.RawMessage) []json.RawMessage {
	if len(bodies) == 0 {
		return []json.RawMessage{nil}
	}
	out := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		out[i] = NormalizeBody(b)
	}
	return out
}

// IsNull reports whether raw is the JSON null literal.
func IsNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// IsObject reports whether raw is a JSON object (not an array).
func IsObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// IsString reports whether raw is a JSON string.
func IsString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// IsArray reports whether raw is a JSON array.
func IsArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isEmptyObject(trimmed []byte) bool {
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return false
	}
	return len(m) == 0
}
