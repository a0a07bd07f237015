package broker

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/oriys/quasar/internal/transport"
)

// LambdaClientFactory builds invocation clients backed by the Lambda API.
// With nil credentials the client runs under the process identity; with
// exchanged credentials it runs under the target organization's role.
func LambdaClientFactory(cfg aws.Config, endpoint string) ClientFactory {
	return func(creds *Credentials) transport.Transport {
		clientCfg := cfg.Copy()
		if creds != nil {
			clientCfg.Credentials = credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
		}
		return transport.NewLambdaTransport(clientCfg, endpoint)
	}
}
