// Package dispatcher runs the receiving side of an invocation: it validates
// the inbound envelope against the target function's contract, rehydrates
// offloaded payloads, executes the function's lifecycle and normalizes the
// result or failure.
//
// The pipeline is a straight line: Received -> Validated -> Prepared ->
// Executed -> Completed, with Failed terminal from every state before
// Completed. Both pipeline failures and failures raised by the function's
// own hooks are surfaced, never swallowed; the configured error strategy
// decides whether they come back structured or re-raised.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/quasar/internal/envelope"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/observability"
	"github.com/oriys/quasar/internal/offload"
	"github.com/oriys/quasar/internal/session"
)

// CompletionEvent is emitted after every invocation, success or failure, so
// the surrounding platform can close out tracing and metrics.
const CompletionEvent = "quasar.ended"

// Signal receives lifecycle notifications. Emit failures are ignored.
type Signal func(ctx context.Context, event string) error

// Handler drives the execution pipeline for inbound invocations.
type Handler struct {
	// Store rehydrates offloaded request bodies and offloads oversized
	// workflow-step responses. Nil disables both (inline passthrough).
	Store offload.Store

	// Namespace keys offloaded workflow-step responses in the store.
	Namespace string

	// Signal is the lifecycle sink, invoked unconditionally after the
	// pipeline reaches Completed or Failed.
	Signal Signal

	// OnError decides how pipeline failures reach the caller.
	// Defaults to FormatError.
	OnError ErrorStrategy

	// LastPayload, when set, records the validated inbound event so the
	// gateway can re-issue it on a recall.
	LastPayload func(payload []byte)
}

// Handle runs the target function against the inbound event and returns its
// normalized result. Failures pass through the handler's error strategy; the
// completion signal fires on every path.
func (h *Handler) Handle(ctx context.Context, fn Function, event json.RawMessage) (any, error) {
	ctx, span := observability.StartSpan(ctx, "dispatch")
	defer span.End()

	start := time.Now()
	result, err := h.pipeline(ctx, fn, event)

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		observability.SetSpanError(span, err)
	}
	metrics.ObserveDispatch(outcome, time.Since(start))

	h.emit(ctx)

	if err != nil {
		strategy := h.OnError
		if strategy == nil {
			strategy = FormatError
		}
		return strategy(err)
	}
	return result, nil
}

func (h *Handler) pipeline(ctx context.Context, fn Function, event json.RawMessage) (any, error) {
	// Received
	if fn == nil {
		return nil, &envelope.ValidationError{Code: envelope.CodeNoFunction, Message: "no function is found"}
	}
	raw, err := envelope.DecodeRaw(event)
	if err != nil {
		return nil, err
	}

	body, err := offload.Rehydrate(ctx, h.Store, raw.Body)
	if err != nil {
		return nil, err
	}
	if envelope.IsNull(body) {
		body = nil
	}
	raw.Body = body

	// Received -> Validated
	contract := fn.Contract()
	if err := validate(contract, raw); err != nil {
		return nil, err
	}
	if h.LastPayload != nil {
		h.LastPayload(event)
	}

	// Validated -> Prepared
	if err := prepare(fn, contract, raw); err != nil {
		return nil, err
	}

	// Prepared -> Executed
	if err := fn.Validate(ctx); err != nil {
		return nil, &TargetExecutionError{Hook: "validate", Err: err}
	}
	result, err := fn.Process(ctx)
	if err != nil {
		return nil, &TargetExecutionError{Hook: "process", Err: err}
	}

	// Executed -> Completed
	return h.complete(ctx, contract, raw, result)
}

// validate applies the ordered envelope checks. The first violation wins.
func validate(contract Contract, raw *envelope.Raw) error {
	sessPresent := len(raw.Session) > 0 && !envelope.IsNull(raw.Session)

	if sessPresent && !envelope.IsObject(raw.Session) {
		return &envelope.ValidationError{Code: envelope.CodeInvalidSession, Message: "invalid session, must be an object"}
	}

	var fields map[string]json.RawMessage
	if sessPresent {
		if err := json.Unmarshal(raw.Session, &fields); err != nil {
			return &envelope.ValidationError{Code: envelope.CodeInvalidSession, Message: "invalid session, must be an object"}
		}
	}

	orgRaw, orgPresent := fields["organizationCode"]
	if orgPresent && envelope.IsNull(orgRaw) {
		orgPresent = false
	}
	orgIsString := orgPresent && envelope.IsString(orgRaw)
	var orgCode string
	if orgIsString {
		_ = json.Unmarshal(orgRaw, &orgCode)
	}

	if contract.RequiresSession && (!sessPresent || !orgPresent || (orgIsString && orgCode == "")) {
		return &envelope.ValidationError{Code: envelope.CodeNoOrganization, Message: "function must have an organization"}
	}
	if orgPresent && !orgIsString {
		return &envelope.ValidationError{Code: envelope.CodeInvalidOrganization, Message: "invalid organization code, must be a string"}
	}

	userRaw, userPresent := fields["userId"]
	if userPresent && envelope.IsNull(userRaw) {
		userPresent = false
	}
	userIsString := userPresent && envelope.IsString(userRaw)
	var userID string
	if userIsString {
		_ = json.Unmarshal(userRaw, &userID)
	}

	if contract.RequiresUser && (!sessPresent || !userPresent || (userIsString && userID == "")) {
		return &envelope.ValidationError{Code: envelope.CodeNoUser, Message: "function must have a user"}
	}
	if userPresent && !userIsString {
		return &envelope.ValidationError{Code: envelope.CodeInvalidUser, Message: "invalid user id, must be a string"}
	}

	if contract.RequiresPayload && len(raw.Body) == 0 {
		return &envelope.ValidationError{Code: envelope.CodeNoPayload, Message: "function must have a payload"}
	}

	if len(raw.TaskToken) > 0 && !envelope.IsString(raw.TaskToken) {
		return &envelope.ValidationError{Code: envelope.CodeInvalidTaskToken, Message: "task token must be a string if present"}
	}

	if statePresent := len(raw.State) > 0 && !envelope.IsNull(raw.State); statePresent && !envelope.IsObject(raw.State) {
		return &envelope.ValidationError{Code: envelope.CodeInvalidState, Message: "invalid state, must be an object if present"}
	}

	return nil
}

// prepare constructs the function's view of the envelope: session, coerced
// body, task token and workflow state.
func prepare(fn Function, contract Contract, raw *envelope.Raw) error {
	if len(raw.Session) > 0 && !envelope.IsNull(raw.Session) {
		var sess session.Session
		if err := json.Unmarshal(raw.Session, &sess); err != nil {
			return &envelope.ValidationError{Code: envelope.CodeInvalidSession, Message: "invalid session: " + err.Error()}
		}
		fn.SetSession(&sess)
	}

	body := raw.Body
	if contract.PayloadShape != nil {
		coerced, err := contract.PayloadShape(body)
		if err != nil {
			return err
		}
		body = coerced
	}
	fn.SetBody(body)

	if len(raw.TaskToken) > 0 {
		var token string
		_ = json.Unmarshal(raw.TaskToken, &token)
		fn.SetTaskToken(token)
	}
	if len(raw.State) > 0 && !envelope.IsNull(raw.State) {
		fn.SetState(raw.State)
	}
	return nil
}

// StepResult is the response shape a workflow step receives. Session and
// body are always present, explicitly null when absent, so the next step
// sees well-defined fields.
type StepResult struct {
	Session json.RawMessage `json:"session"`
	Body    json.RawMessage `json:"body"`
}

// complete normalizes the return value. Under a workflow-step invocation the
// response body is subject to the offload protocol and the session/body
// fields are made explicit.
func (h *Handler) complete(ctx context.Context, contract Contract, raw *envelope.Raw, result any) (any, error) {
	workflowStep := len(raw.TaskToken) > 0 || (len(raw.State) > 0 && !envelope.IsNull(raw.State))
	if !workflowStep {
		return result, nil
	}

	var body json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, &TargetExecutionError{Hook: "process", Err: err}
		}
		body = encoded
	}

	if len(body) >= offload.Threshold {
		offloaded, err := offload.Offload(ctx, h.Store, h.Namespace, body, contract.FixedProperties)
		if err != nil {
			return nil, err
		}
		body = offloaded
	}

	step := &StepResult{Body: body}
	if len(raw.Session) > 0 && !envelope.IsNull(raw.Session) {
		step.Session = raw.Session
	}
	return step, nil
}

func (h *Handler) emit(ctx context.Context) {
	if h.Signal == nil {
		return
	}
	if err := h.Signal(ctx, CompletionEvent); err != nil {
		logging.Op().Debug("completion signal failed", "event", CompletionEvent, "error", err)
	}
}
