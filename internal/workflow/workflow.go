// Package workflow starts and controls state machine executions whose steps
// invoke functions through this gateway. Step input uses the same envelope
// contract as direct invocations, so a step sees exactly what a directly
// invoked function sees.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/oriys/quasar/internal/envelope"
	"github.com/oriys/quasar/internal/session"
)

// InputCode distinguishes invalid workflow inputs.
type InputCode int

const (
	CodeInvalidARN InputCode = iota + 1
	CodeInvalidName
	CodeInvalidOrganization
	CodeInvalidData
)

// InputError reports invalid workflow parameters, detected before any call.
type InputError struct {
	Code    InputCode
	Message string
}

func (e *InputError) Error() string { return e.Message }

// API is the state machine backend surface the client needs.
type API interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	StopExecution(ctx context.Context, params *sfn.StopExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error)
	ListExecutions(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
}

// Client wraps the state machine backend.
type Client struct {
	api API
}

// NewClient builds a client from an AWS config.
func NewClient(cfg aws.Config) *Client {
	return &Client{api: sfn.NewFromConfig(cfg)}
}

// NewClientWithAPI builds a client over an explicit backend. Tests use this.
func NewClientWithAPI(api API) *Client {
	return &Client{api: api}
}

// StartExecution starts a state machine execution. name and orgCode are
// optional; data, when present, must be a JSON object and becomes the body
// of the first step's envelope.
func (c *Client) StartExecution(ctx context.Context, arn, name, orgCode string, data json.RawMessage) (*sfn.StartExecutionOutput, error) {
	input, err := buildInput(arn, name, orgCode, data)
	if err != nil {
		return nil, err
	}

	out, err := c.api.StartExecution(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("workflow: start execution: %w", err)
	}
	return out, nil
}

// StopOptions carries the optional cause and error code for a stop.
type StopOptions struct {
	Cause string
	Error string
}

// StopExecution stops a running execution.
func (c *Client) StopExecution(ctx context.Context, executionARN string, opts *StopOptions) (*sfn.StopExecutionOutput, error) {
	if err := validateARN(executionARN); err != nil {
		return nil, err
	}

	input := &sfn.StopExecutionInput{ExecutionArn: aws.String(executionARN)}
	if opts != nil {
		if opts.Cause != "" {
			input.Cause = aws.String(opts.Cause)
		}
		if opts.Error != "" {
			input.Error = aws.String(opts.Error)
		}
	}

	out, err := c.api.StopExecution(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("workflow: stop execution: %w", err)
	}
	return out, nil
}

// ListOptions filters an execution listing.
type ListOptions struct {
	StatusFilter types.ExecutionStatus
	MaxResults   int32
	NextToken    string
}

// ListExecutions lists a state machine's executions.
func (c *Client) ListExecutions(ctx context.Context, arn string, opts *ListOptions) (*sfn.ListExecutionsOutput, error) {
	if err := validateARN(arn); err != nil {
		return nil, err
	}

	input := &sfn.ListExecutionsInput{StateMachineArn: aws.String(arn)}
	if opts != nil {
		if opts.StatusFilter != "" {
			input.StatusFilter = opts.StatusFilter
		}
		if opts.MaxResults > 0 {
			input.MaxResults = opts.MaxResults
		}
		if opts.NextToken != "" {
			input.NextToken = aws.String(opts.NextToken)
		}
	}

	out, err := c.api.ListExecutions(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("workflow: list executions: %w", err)
	}
	return out, nil
}

func buildInput(arn, name, orgCode string, data json.RawMessage) (*sfn.StartExecutionInput, error) {
	if err := validateARN(arn); err != nil {
		return nil, err
	}
	if name != "" && strings.TrimSpace(name) == "" {
		return nil, &InputError{Code: CodeInvalidName, Message: "execution name cannot be blank"}
	}
	if orgCode != "" && strings.TrimSpace(orgCode) == "" {
		return nil, &InputError{Code: CodeInvalidOrganization, Message: "organization code cannot be blank"}
	}
	if len(data) > 0 && !envelope.IsNull(data) && !envelope.IsObject(data) {
		return nil, &InputError{Code: CodeInvalidData, Message: "execution data must be an object"}
	}

	input := &sfn.StartExecutionInput{StateMachineArn: aws.String(arn)}
	if name != "" {
		input.Name = aws.String(name)
	}

	env := &envelope.Envelope{}
	if orgCode != "" {
		sess := session.New(orgCode)
		env.Session = &sess
	}
	if len(data) > 0 && !envelope.IsNull(data) {
		env.Body = data
	}
	if !env.IsEmpty() {
		encoded, err := json.Marshal(env)
		if err != nil {
			return nil, &InputError{Code: CodeInvalidData, Message: "invalid execution data: " + err.Error()}
		}
		input.Input = aws.String(string(encoded))
	}

	return input, nil
}

func validateARN(arn string) error {
	if strings.TrimSpace(arn) == "" {
		return &InputError{Code: CodeInvalidARN, Message: "arn cannot be empty"}
	}
	return nil
}
