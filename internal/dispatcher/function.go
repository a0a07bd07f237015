package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/oriys/quasar/internal/session"
)

// Contract declares what an invoked function requires from its envelope.
// The dispatcher reads it before preparing the function instance.
type Contract struct {
	// RequiresSession demands a session carrying a non-empty organization code.
	RequiresSession bool

	// RequiresPayload demands a non-empty body.
	RequiresPayload bool

	// RequiresUser demands a session carrying a user identifier.
	RequiresUser bool

	// PayloadShape, when set, coerces and validates the body before it is
	// assigned. A returned error fails the pipeline.
	PayloadShape func(body json.RawMessage) (json.RawMessage, error)

	// FixedProperties names top-level body fields that stay inline when a
	// workflow-step response is offloaded.
	FixedProperties []string
}

// Function is the lifecycle every invoked function satisfies. Embed Base to
// get no-op defaults and the envelope accessors, and override what you need.
type Function interface {
	Contract() Contract

	SetSession(s *session.Session)
	SetBody(body json.RawMessage)
	SetTaskToken(token string)
	SetState(state json.RawMessage)

	// Validate runs extra checks after the envelope has been assigned.
	// Returning an error fails the invocation before Process runs.
	Validate(ctx context.Context) error

	// Process runs the function's logic. Only invoked when every
	// validation passed.
	Process(ctx context.Context) (any, error)
}

// Base provides the default no-op lifecycle and holds the assigned envelope
// fields.
type Base struct {
	Session   *session.Session
	Body      json.RawMessage
	TaskToken string
	State     json.RawMessage
}

func (b *Base) Contract() Contract { return Contract{} }

func (b *Base) SetSession(s *session.Session)  { b.Session = s }
func (b *Base) SetBody(body json.RawMessage)   { b.Body = body }
func (b *Base) SetTaskToken(token string)      { b.TaskToken = token }
func (b *Base) SetState(state json.RawMessage) { b.State = state }

func (b *Base) Validate(ctx context.Context) error { return nil }

func (b *Base) Process(ctx context.Context) (any, error) { return nil, nil }
