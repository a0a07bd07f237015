package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

type fakeAPI struct {
	startInput *sfn.StartExecutionInput
	stopInput  *sfn.StopExecutionInput
	listInput  *sfn.ListExecutionsInput
	err        error
}

func (f *fakeAPI) StartExecution(_ context.Context, params *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.startInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec:1")}, nil
}

func (f *fakeAPI) StopExecution(_ context.Context, params *sfn.StopExecutionInput, _ ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error) {
	f.stopInput = params
	return &sfn.StopExecutionOutput{}, f.err
}

func (f *fakeAPI) ListExecutions(_ context.Context, params *sfn.ListExecutionsInput, _ ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error) {
	f.listInput = params
	return &sfn.ListExecutionsOutput{}, f.err
}

const testARN = "arn:aws:states:us-east-1:111:stateMachine:Orders"

func TestStartExecution_BuildsEnvelopeInput(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api)

	data := json.RawMessage(`{"orderId":"o-1"}`)
	if _, err := c.StartExecution(context.Background(), testARN, "run-1", "acme", data); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if got := aws.ToString(api.startInput.StateMachineArn); got != testARN {
		t.Fatalf("unexpected arn: %s", got)
	}
	if got := aws.ToString(api.startInput.Name); got != "run-1" {
		t.Fatalf("unexpected execution name: %s", got)
	}
	want := `{"session":{"organizationCode":"acme"},"body":{"orderId":"o-1"}}`
	if got := aws.ToString(api.startInput.Input); got != want {
		t.Fatalf("unexpected input:\n got %s\nwant %s", got, want)
	}
}

func TestStartExecution_OmitsEmptyInput(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api)

	if _, err := c.StartExecution(context.Background(), testARN, "", "", nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if api.startInput.Input != nil {
		t.Fatalf("expected no input field, got %s", aws.ToString(api.startInput.Input))
	}
	if api.startInput.Name != nil {
		t.Fatal("expected no execution name")
	}
}

func TestStartExecution_NullDataIsOmitted(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api)

	if _, err := c.StartExecution(context.Background(), testARN, "", "acme", json.RawMessage(`null`)); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	want := `{"session":{"organizationCode":"acme"}}`
	if got := aws.ToString(api.startInput.Input); got != want {
		t.Fatalf("unexpected input: %s", got)
	}
}

func TestStartExecution_InputValidation(t *testing.T) {
	c := NewClientWithAPI(&fakeAPI{})

	cases := []struct {
		name string
		arn  string
		data json.RawMessage
		code InputCode
	}{
		{"empty arn", "", nil, CodeInvalidARN},
		{"blank arn", "   ", nil, CodeInvalidARN},
		{"non-object data", testARN, json.RawMessage(`[1,2]`), CodeInvalidData},
		{"string data", testARN, json.RawMessage(`"text"`), CodeInvalidData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.StartExecution(context.Background(), tc.arn, "", "", tc.data)
			var inputErr *InputError
			if !errors.As(err, &inputErr) || inputErr.Code != tc.code {
				t.Fatalf("expected input error code %d, got %v", tc.code, err)
			}
		})
	}
}

func TestStartExecution_WrapsBackendError(t *testing.T) {
	backendErr := errors.New("throttled")
	c := NewClientWithAPI(&fakeAPI{err: backendErr})

	_, err := c.StartExecution(context.Background(), testARN, "", "", nil)
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected the backend error wrapped, got %v", err)
	}
}

func TestStopExecution(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api)

	opts := &StopOptions{Cause: "superseded", Error: "Aborted"}
	if _, err := c.StopExecution(context.Background(), "arn:exec:1", opts); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if aws.ToString(api.stopInput.Cause) != "superseded" || aws.ToString(api.stopInput.Error) != "Aborted" {
		t.Fatalf("options not applied: %+v", api.stopInput)
	}
}

func TestStopExecution_RequiresARN(t *testing.T) {
	c := NewClientWithAPI(&fakeAPI{})

	_, err := c.StopExecution(context.Background(), "", nil)
	var inputErr *InputError
	if !errors.As(err, &inputErr) || inputErr.Code != CodeInvalidARN {
		t.Fatalf("expected an arn input error, got %v", err)
	}
}

func TestListExecutions_AppliesFilters(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api)

	opts := &ListOptions{StatusFilter: types.ExecutionStatusRunning, MaxResults: 10, NextToken: "tok"}
	if _, err := c.ListExecutions(context.Background(), testARN, opts); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if api.listInput.StatusFilter != types.ExecutionStatusRunning {
		t.Fatalf("status filter not applied: %+v", api.listInput)
	}
	if api.listInput.MaxResults != 10 {
		t.Fatalf("max results not applied: %+v", api.listInput)
	}
	if aws.ToString(api.listInput.NextToken) != "tok" {
		t.Fatalf("next token not applied: %+v", api.listInput)
	}
}
