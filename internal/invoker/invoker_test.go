package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/quasar/internal/broker"
	"github.com/oriys/quasar/internal/envelope"
	"github.com/oriys/quasar/internal/naming"
	"github.com/oriys/quasar/internal/offload"
	"github.com/oriys/quasar/internal/session"
	"github.com/oriys/quasar/internal/transport"
)

type recordedCall struct {
	address string
	mode    transport.Mode
	payload []byte
}

// echoTransport answers every call with its own payload so tests can check
// what went over the wire per result slot.
type echoTransport struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
	fail   func(payload []byte) error
}

func (e *echoTransport) Invoke(_ context.Context, address string, mode transport.Mode, payload []byte) (*transport.Response, error) {
	e.mu.Lock()
	e.calls = append(e.calls, recordedCall{address: address, mode: mode, payload: payload})
	e.mu.Unlock()

	if e.fail != nil {
		if err := e.fail(payload); err != nil {
			return nil, err
		}
	}
	status := e.status
	if status == 0 {
		status = 202
	}
	return &transport.Response{StatusCode: status, Payload: payload}, nil
}

func (e *echoTransport) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type staticExchanger struct{ exchanges int }

func (s *staticExchanger) Exchange(context.Context, string, string, time.Duration) (*broker.Credentials, error) {
	s.exchanges++
	return &broker.Credentials{ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type staticResolver struct {
	orgID string
}

func (r staticResolver) Resolve(_ context.Context, name, _ string) (naming.Address, error) {
	return naming.Address{Name: "Quasar-test-" + name, OrganizationID: r.orgID}, nil
}

func newTestInvoker(tr *echoTransport, resolver naming.Resolver, opts ...Option) *Invoker {
	b := broker.New(&staticExchanger{}, func(*broker.Credentials) transport.Transport { return tr }, "RemoteInvoke", "test")
	return New(b, resolver, opts...)
}

func decodeEnvelope(t *testing.T, payload []byte) (orgCode string, body json.RawMessage) {
	t.Helper()
	var env struct {
		Session *session.Session `json:"session"`
		Body    json.RawMessage  `json:"body"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("payload is not an envelope: %v (%s)", err, payload)
	}
	if env.Session != nil {
		orgCode = env.Session.OrganizationCode
	}
	return orgCode, env.Body
}

func TestCall_NoBodiesIssuesOneBodilessInvocation(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	results, err := inv.Call(context.Background(), "process-order")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one invocation, got %d", len(results))
	}
	if len(results[0].Payload) != 0 {
		t.Fatalf("expected an empty payload, got %s", results[0].Payload)
	}
}

func TestCall_EmptyObjectBodyIsDropped(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	results, err := inv.Call(context.Background(), "process-order", map[string]any{})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one invocation, got %d", len(results))
	}
	if len(results[0].Payload) != 0 {
		t.Fatalf("an empty-object body must be dropped, got payload %s", results[0].Payload)
	}
}

func TestCall_OnePerBodyInOrder(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	results, err := inv.Call(context.Background(), "process-order",
		map[string]int{"n": 1},
		map[string]int{"n": 2},
		map[string]int{"n": 3},
	)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected three invocations, got %d", len(results))
	}
	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, body := decodeEnvelope(t, results[i].Payload)
		if string(body) != want {
			t.Fatalf("result %d: expected body %s, got %s", i, want, body)
		}
	}
	if tr.calls[0].mode != transport.ModeEvent {
		t.Fatalf("expected fire-and-forget mode, got %s", tr.calls[0].mode)
	}
}

func TestCall_RequiresName(t *testing.T) {
	inv := newTestInvoker(&echoTransport{}, staticResolver{})

	_, err := inv.Call(context.Background(), "")
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) || verr.Code != envelope.CodeNoFunctionName {
		t.Fatalf("expected a no-function-name validation error, got %v", err)
	}
}

func TestOrganizationCall_CartesianRowMajorOrder(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	sessions := session.ForOrganizations("acme", "globex")
	bodies := []any{map[string]int{"n": 1}, map[string]int{"n": 2}}

	results, err := inv.OrganizationCall(context.Background(), "process-order", sessions, bodies)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 2x2 invocations, got %d", len(results))
	}

	want := []struct {
		org  string
		body string
	}{
		{"acme", `{"n":1}`},
		{"acme", `{"n":2}`},
		{"globex", `{"n":1}`},
		{"globex", `{"n":2}`},
	}
	for i, w := range want {
		org, body := decodeEnvelope(t, results[i].Payload)
		if org != w.org || string(body) != w.body {
			t.Fatalf("result %d: expected (%s, %s), got (%s, %s)", i, w.org, w.body, org, body)
		}
	}
}

func TestOrganizationCall_SessionOnlyEnvelope(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	results, err := inv.OrganizationCall(context.Background(), "process-order", session.ForOrganizations("acme"), nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one invocation, got %d", len(results))
	}
	if got := string(results[0].Payload); got != `{"session":{"organizationCode":"acme"}}` {
		t.Fatalf("unexpected wire payload: %s", got)
	}
}

func TestOrganizationCall_RequiresSessions(t *testing.T) {
	inv := newTestInvoker(&echoTransport{}, staticResolver{})

	_, err := inv.OrganizationCall(context.Background(), "process-order", nil, nil)
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) || verr.Code != envelope.CodeNoOrganization {
		t.Fatalf("expected a no-organization validation error, got %v", err)
	}
}

func TestOrganizationCall_RejectsEmptyOrganizationCode(t *testing.T) {
	inv := newTestInvoker(&echoTransport{}, staticResolver{})

	sessions := []session.Session{{OrganizationCode: ""}}
	_, err := inv.OrganizationCall(context.Background(), "process-order", sessions, nil)
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) || verr.Code != envelope.CodeInvalidOrganization {
		t.Fatalf("expected an invalid-organization validation error, got %v", err)
	}
}

func TestCall_JoinsBranchFailures(t *testing.T) {
	branchErr := errors.New("branch down")
	tr := &echoTransport{
		fail: func(payload []byte) error {
			if strings.Contains(string(payload), `"n":2`) {
				return branchErr
			}
			return nil
		},
	}
	inv := newTestInvoker(tr, staticResolver{})

	results, err := inv.Call(context.Background(), "process-order",
		map[string]int{"n": 1},
		map[string]int{"n": 2},
	)
	if !errors.Is(err, branchErr) {
		t.Fatalf("expected the branch failure joined into the error, got %v", err)
	}
	if results[0] == nil {
		t.Fatal("a failed branch must not discard its siblings' results")
	}
	if results[1] != nil {
		t.Fatal("the failed branch must have no result")
	}
}

func TestCrossServiceCall_RaisesOnFailureStatus(t *testing.T) {
	tr := &echoTransport{status: 404}
	inv := newTestInvoker(tr, staticResolver{})

	_, err := inv.CrossServiceCall(context.Background(), "acme", "get-invoice", nil, nil)
	var remoteErr *transport.RemoteStatusError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteStatusError, got %v", err)
	}
	if remoteErr.Response.StatusCode != 404 {
		t.Fatalf("expected the remote status on the error, got %d", remoteErr.Response.StatusCode)
	}
}

func TestCrossServiceSafeCall_ReturnsFailureResponse(t *testing.T) {
	tr := &echoTransport{status: 404}
	inv := newTestInvoker(tr, staticResolver{})

	resp, err := inv.CrossServiceSafeCall(context.Background(), "acme", "get-invoice", nil, nil)
	if err != nil {
		t.Fatalf("safe call must not raise on a failure status: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected the failure response back, got %d", resp.StatusCode)
	}
}

func TestCrossServiceCall_UsesRequestResponseMode(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{})

	if _, err := inv.CrossServiceCall(context.Background(), "acme", "get-invoice", nil, nil); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if tr.calls[0].mode != transport.ModeRequestResponse {
		t.Fatalf("expected request-response mode, got %s", tr.calls[0].mode)
	}
}

func TestCrossServiceCall_RequiresOrganizationCode(t *testing.T) {
	inv := newTestInvoker(&echoTransport{}, staticResolver{})

	_, err := inv.CrossServiceCall(context.Background(), "", "get-invoice", nil, nil)
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) || verr.Code != envelope.CodeNoService {
		t.Fatalf("expected a no-service validation error, got %v", err)
	}
}

func TestCrossServiceCall_AssumesTargetOrganization(t *testing.T) {
	tr := &echoTransport{}
	ex := &staticExchanger{}
	b := broker.New(ex, func(*broker.Credentials) transport.Transport { return tr }, "RemoteInvoke", "test")
	inv := New(b, staticResolver{orgID: "123456789012"})

	if _, err := inv.CrossServiceCall(context.Background(), "acme", "get-invoice", nil, nil); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if ex.exchanges != 1 {
		t.Fatalf("expected one credential exchange for the owning account, got %d", ex.exchanges)
	}
}

func TestRecall_ReissuesLastPayload(t *testing.T) {
	tr := &echoTransport{}
	inv := newTestInvoker(tr, staticResolver{}, WithSelfName("Quasar-test-Worker"))

	last := []byte(`{"session":{"organizationCode":"acme"},"body":{"n":7}}`)
	inv.SetLastPayload(last)

	resp, err := inv.Recall(context.Background())
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if string(resp.Payload) != string(last) {
		t.Fatalf("recall must reuse the inbound payload, got %s", resp.Payload)
	}
	if tr.calls[0].address != "Quasar-test-Worker" {
		t.Fatalf("recall must target the current function, got %s", tr.calls[0].address)
	}
	if tr.calls[0].mode != transport.ModeEvent {
		t.Fatalf("recall must be fire-and-forget, got %s", tr.calls[0].mode)
	}
}

func TestRecall_NeedsSelfName(t *testing.T) {
	inv := newTestInvoker(&echoTransport{}, staticResolver{})

	_, err := inv.Recall(context.Background())
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) || verr.Code != envelope.CodeNoFunctionName {
		t.Fatalf("expected a no-function-name validation error, got %v", err)
	}
}

func TestCall_OffloadsOversizedBody(t *testing.T) {
	tr := &echoTransport{}
	store := offload.NewMemoryStore()
	inv := newTestInvoker(tr, staticResolver{}, WithOffloadStore(store, "quasar-test"))

	big := map[string]string{"padding": strings.Repeat("x", offload.Threshold)}
	results, err := inv.Call(context.Background(), "process-order", big)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected the oversized body stored, got %d blobs", store.Len())
	}
	_, body := decodeEnvelope(t, results[0].Payload)
	var stand map[string]string
	if err := json.Unmarshal(body, &stand); err != nil {
		t.Fatal(err)
	}
	if stand[offload.RefField] == "" {
		t.Fatalf("expected a blob reference on the wire body, got %s", body)
	}
	if _, ok := stand["padding"]; ok {
		t.Fatal("the oversized content must not ride inline")
	}
	if tr.callCount() != 1 {
		t.Fatalf("expected one invocation, got %d", tr.callCount())
	}
}
