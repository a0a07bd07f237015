package transport

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaTransport invokes functions through the Lambda API.
type LambdaTransport struct {
	client *lambda.Client
}

// NewLambdaTransport builds a transport from an AWS config. endpoint, when
// non-empty, overrides the API endpoint; local deployments point it at the
// emulator so the same code path works without real infrastructure.
func NewLambdaTransport(cfg aws.Config, endpoint string) *LambdaTransport {
	client := lambda.NewFromConfig(cfg, func(o *lambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &LambdaTransport{client: client}
}

func (t *LambdaTransport) Invoke(ctx context.Context, address string, mode Mode, payload []byte) (*Response, error) {
	input := &lambda.InvokeInput{
		FunctionName:   aws.String(address),
		InvocationType: types.InvocationType(mode),
	}
	if payload != nil {
		input.Payload = payload
	}

	out, err := t.client.Invoke(ctx, input)
	if err != nil {
		return nil, &Error{Address: address, Err: err}
	}

	resp := &Response{StatusCode: int(out.StatusCode)}
	if len(out.Payload) > 0 {
		resp.Payload = out.Payload
	}
	if out.FunctionError != nil {
		resp.FunctionError = *out.FunctionError
	}
	return resp, nil
}
