package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSExchanger performs the credential exchange through STS AssumeRole.
type STSExchanger struct {
	client *sts.Client
}

// NewSTSExchanger builds an exchanger from an AWS config.
func NewSTSExchanger(cfg aws.Config) *STSExchanger {
	return &STSExchanger{client: sts.NewFromConfig(cfg)}
}

func (e *STSExchanger) Exchange(ctx context.Context, roleARN, sessionName string, duration time.Duration) (*Credentials, error) {
	out, err := e.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(duration / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("assume role: %w", err)
	}
	if out.Credentials == nil {
		return nil, nil
	}

	creds := &Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}
	if out.Credentials.Expiration != nil {
		creds.ExpiresAt = *out.Credentials.Expiration
	}
	return creds, nil
}
