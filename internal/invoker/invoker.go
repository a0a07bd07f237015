// Package invoker builds and issues remote invocations: it validates caller
// input, expands the session and body axes into a request set, offloads
// oversized payloads, resolves credentials per target organization and fans
// the calls out concurrently.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/quasar/internal/broker"
	"github.com/oriys/quasar/internal/envelope"
	"github.com/oriys/quasar/internal/invlog"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/naming"
	"github.com/oriys/quasar/internal/observability"
	"github.com/oriys/quasar/internal/offload"
	"github.com/oriys/quasar/internal/session"
	"github.com/oriys/quasar/internal/transport"
)

// Recorder receives one audit record per issued invocation. *invlog.Batcher
// satisfies it.
type Recorder interface {
	Enqueue(r *invlog.Record)
}

// Invoker is the invocation request builder and client.
type Invoker struct {
	broker    *broker.Broker
	resolver  naming.Resolver
	store     offload.Store
	namespace string
	selfName  string
	recorder  Recorder

	// fixedProperties looks up the target-declared fields that must stay
	// inline when a payload is offloaded. Nil means no target declares any.
	fixedProperties func(target string) []string

	lastMu      sync.Mutex
	lastPayload []byte
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithOffloadStore enables oversized-payload offload through the given
// store, keyed under namespace.
func WithOffloadStore(store offload.Store, namespace string) Option {
	return func(inv *Invoker) {
		inv.store = store
		inv.namespace = namespace
	}
}

// WithSelfName sets the fully-qualified name of the currently executing
// function, enabling Recall.
func WithSelfName(name string) Option {
	return func(inv *Invoker) { inv.selfName = name }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(rec Recorder) Option {
	return func(inv *Invoker) { inv.recorder = rec }
}

// WithFixedProperties registers the lookup for target-declared fixed
// properties used by the offload protocol.
func WithFixedProperties(lookup func(target string) []string) Option {
	return func(inv *Invoker) { inv.fixedProperties = lookup }
}

// New builds an Invoker over a credential broker and a naming resolver.
func New(b *broker.Broker, resolver naming.Resolver, opts ...Option) *Invoker {
	inv := &Invoker{broker: b, resolver: resolver}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Call invokes a function fire-and-forget with no tenant context, once per
// body. With no bodies exactly one invocation is issued, with no payload.
// Results are returned in body order.
func (inv *Invoker) Call(ctx context.Context, name string, bodies ...any) ([]*transport.Response, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	rawBodies, err := encodeBodies(bodies)
	if err != nil {
		return nil, err
	}
	rawBodies = envelope.ExpandBodies(rawBodies)

	envelopes := make([]*envelope.Envelope, len(rawBodies))
	for i, body := range rawBodies {
		envelopes[i] = &envelope.Envelope{Body: body}
	}

	return inv.fanOut(ctx, name, "", envelopes, transport.ModeEvent)
}

// OrganizationCall invokes a function fire-and-forget once per
// (session, body) pair: sessions outer, bodies inner, input order preserved
// on both axes. At least one session is required and every session must
// carry a non-empty organization code. A nil or empty body list contributes
// a single invocation with no body.
func (inv *Invoker) OrganizationCall(ctx context.Context, name string, sessions []session.Session, bodies []any) ([]*transport.Response, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateSessions(sessions); err != nil {
		return nil, err
	}

	rawBodies, err := encodeBodies(bodies)
	if err != nil {
		return nil, err
	}
	rawBodies = envelope.ExpandBodies(rawBodies)

	envelopes := make([]*envelope.Envelope, 0, len(sessions)*len(rawBodies))
	for i := range sessions {
		for _, body := range rawBodies {
			envelopes = append(envelopes, &envelope.Envelope{
				Session: &sessions[i],
				Body:    body,
			})
		}
	}

	return inv.fanOut(ctx, name, "", envelopes, transport.ModeEvent)
}

// CrossServiceCall invokes a function owned by another organization,
// request-response style, and raises a RemoteStatusError when the remote
// reports a failure status.
func (inv *Invoker) CrossServiceCall(ctx context.Context, orgCode, name string, body any, sess *session.Session) (*transport.Response, error) {
	resp, addr, err := inv.crossService(ctx, orgCode, name, body, sess)
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, &transport.RemoteStatusError{Address: addr.Name, Response: resp}
	}
	return resp, nil
}

// CrossServiceSafeCall is CrossServiceCall except that a remote failure
// status is returned as a normal response instead of raised. Failures to
// resolve, authenticate or complete the call still raise.
func (inv *Invoker) CrossServiceSafeCall(ctx context.Context, orgCode, name string, body any, sess *session.Session) (*transport.Response, error) {
	resp, _, err := inv.crossService(ctx, orgCode, name, body, sess)
	return resp, err
}

func (inv *Invoker) crossService(ctx context.Context, orgCode, name string, body any, sess *session.Session) (*transport.Response, naming.Address, error) {
	if err := validateName(name); err != nil {
		return nil, naming.Address{}, err
	}
	if orgCode == "" {
		return nil, naming.Address{}, &envelope.ValidationError{
			Code:    envelope.CodeNoService,
			Message: "cross-service call needs a target organization code",
		}
	}

	addr, err := inv.resolver.Resolve(ctx, name, orgCode)
	if err != nil {
		return nil, naming.Address{}, err
	}

	client := inv.broker.Client()
	if addr.OrganizationID != "" {
		client, err = inv.broker.ClientForOrganization(ctx, addr.OrganizationID)
		if err != nil {
			return nil, naming.Address{}, err
		}
	}

	raw, err := encodeBody(body)
	if err != nil {
		return nil, naming.Address{}, err
	}
	env := &envelope.Envelope{Session: sess, Body: envelope.NormalizeBody(raw)}

	resp, err := inv.send(ctx, client, addr, name, env, transport.ModeRequestResponse)
	if err != nil {
		return nil, naming.Address{}, err
	}
	return resp, addr, nil
}

// Recall re-invokes the currently executing function, fire-and-forget, with
// the same payload it was itself invoked with. The dispatcher records that
// payload after validating an inbound event.
func (inv *Invoker) Recall(ctx context.Context) (*transport.Response, error) {
	if inv.selfName == "" {
		return nil, &envelope.ValidationError{
			Code:    envelope.CodeNoFunctionName,
			Message: "recall needs the current function name configured",
		}
	}

	inv.lastMu.Lock()
	payload := inv.lastPayload
	inv.lastMu.Unlock()

	return inv.invoke(ctx, inv.broker.Client(), inv.selfName, "", transport.ModeEvent, payload)
}

// SetLastPayload records the inbound payload slot Recall re-issues from.
func (inv *Invoker) SetLastPayload(payload []byte) {
	inv.lastMu.Lock()
	inv.lastPayload = payload
	inv.lastMu.Unlock()
}

// fanOut resolves the target once, then issues every envelope concurrently.
// Results keep the expansion order. A failed branch does not cancel its
// siblings; the joined error carries every branch failure.
func (inv *Invoker) fanOut(ctx context.Context, name, ownerOrg string, envelopes []*envelope.Envelope, mode transport.Mode) ([]*transport.Response, error) {
	addr, err := inv.resolver.Resolve(ctx, name, ownerOrg)
	if err != nil {
		return nil, err
	}
	client := inv.broker.Client()

	ctx, span := observability.StartSpan(ctx, "fanout "+name,
		observability.AttrTarget.String(addr.Name),
		observability.AttrFanOut.Int(len(envelopes)),
	)
	defer span.End()

	results := make([]*transport.Response, len(envelopes))
	errs := make([]error, len(envelopes))

	var wg sync.WaitGroup
	for i, env := range envelopes {
		wg.Add(1)
		go func(i int, env *envelope.Envelope) {
			defer wg.Done()
			results[i], errs[i] = inv.send(ctx, client, addr, name, env, mode)
		}(i, env)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		observability.SetSpanError(span, err)
		return results, err
	}
	return results, nil
}

// send applies the offload protocol to the envelope body, encodes it and
// performs the call.
func (inv *Invoker) send(ctx context.Context, client transport.Transport, addr naming.Address, target string, env *envelope.Envelope, mode transport.Mode) (*transport.Response, error) {
	if len(env.Body) >= offload.Threshold {
		var fixed []string
		if inv.fixedProperties != nil {
			fixed = inv.fixedProperties(target)
		}
		body, err := offload.Offload(ctx, inv.store, inv.namespace, env.Body, fixed)
		if err != nil {
			return nil, err
		}
		env.Body = body
		observability.SpanAttributes(ctx, observability.AttrOffloaded.Bool(true))
	}

	payload, err := env.Encode()
	if err != nil {
		return nil, &envelope.ValidationError{
			Code:    envelope.CodeInvalidBody,
			Message: "invalid body: " + err.Error(),
		}
	}

	orgCode := ""
	if env.Session != nil {
		orgCode = env.Session.OrganizationCode
	}
	return inv.invoke(ctx, client, addr.Name, orgCode, mode, payload)
}

// invoke performs one network call, with tracing, metrics and audit.
func (inv *Invoker) invoke(ctx context.Context, client transport.Transport, address, orgCode string, mode transport.Mode, payload []byte) (*transport.Response, error) {
	attrs := []attribute.KeyValue{
		observability.AttrTarget.String(address),
		observability.AttrMode.String(string(mode)),
	}
	if orgCode != "" {
		attrs = append(attrs, observability.AttrOrganization.String(orgCode))
	}
	ctx, span := observability.StartClientSpan(ctx, "invoke "+address, attrs...)
	defer span.End()

	start := time.Now()
	resp, err := client.Invoke(ctx, address, mode, payload)

	rec := &invlog.Record{
		ID:               uuid.NewString(),
		Target:           address,
		Mode:             string(mode),
		OrganizationCode: orgCode,
		DurationMS:       time.Since(start).Milliseconds(),
		CreatedAt:        start.UTC(),
	}

	status := "error"
	if err != nil {
		observability.SetSpanError(span, err)
		rec.Error = err.Error()
	} else {
		status = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(observability.AttrStatusCode.Int(resp.StatusCode))
		rec.StatusCode = resp.StatusCode
	}
	metrics.RecordInvocation(address, string(mode), status)
	if inv.recorder != nil {
		inv.recorder.Enqueue(rec)
	}

	return resp, err
}

func validateName(name string) error {
	if name == "" {
		return &envelope.ValidationError{
			Code:    envelope.CodeNoFunctionName,
			Message: "invoker needs a function name",
		}
	}
	return nil
}

func validateSessions(sessions []session.Session) error {
	if len(sessions) == 0 {
		return &envelope.ValidationError{
			Code:    envelope.CodeNoOrganization,
			Message: "invoker needs at least one organization session",
		}
	}
	for _, s := range sessions {
		if s.OrganizationCode == "" {
			return &envelope.ValidationError{
				Code:    envelope.CodeInvalidOrganization,
				Message: "invalid session, organization code must be a non-empty string",
			}
		}
	}
	return nil
}

func encodeBodies(bodies []any) ([]json.RawMessage, error) {
	if bodies == nil {
		return nil, nil
	}
	raw := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		encoded, err := encodeBody(b)
		if err != nil {
			return nil, err
		}
		raw[i] = encoded
	}
	return raw, nil
}

func encodeBody(body any) (json.RawMessage, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return json.RawMessage(b), nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &envelope.ValidationError{
				Code:    envelope.CodeInvalidBody,
				Message: "invalid body: " + err.Error(),
			}
		}
		return encoded, nil
	}
}
