package naming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DefaultDirectorySecret is the secret holding account ids keyed by
// organization code.
const DefaultDirectorySecret = "AccountsIdsByService"

// Directory maps organization codes to their account ids. Entries are
// fetched once per process and held in memory.
type Directory struct {
	fetch func(ctx context.Context) (map[string]string, error)

	mu       sync.Mutex
	accounts map[string]string
}

// NewStaticDirectory builds a directory from a fixed map. Local deployments
// use this with an empty map.
func NewStaticDirectory(accounts map[string]string) *Directory {
	if accounts == nil {
		accounts = map[string]string{}
	}
	return &Directory{accounts: accounts}
}

// NewSecretsDirectory builds a directory backed by a Secrets Manager secret
// whose value is a JSON object of organization code to account id.
func NewSecretsDirectory(cfg aws.Config, secretName string) *Directory {
	client := secretsmanager.NewFromConfig(cfg)
	return &Directory{
		fetch: func(ctx context.Context) (map[string]string, error) {
			out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
				SecretId: aws.String(secretName),
			})
			if err != nil {
				return nil, fmt.Errorf("fetch directory secret %s: %w", secretName, err)
			}
			if out.SecretString == nil {
				return nil, fmt.Errorf("directory secret %s is empty", secretName)
			}
			var accounts map[string]string
			if err := json.Unmarshal([]byte(*out.SecretString), &accounts); err != nil {
				return nil, fmt.Errorf("parse directory secret %s: %w", secretName, err)
			}
			return accounts, nil
		},
	}
}

// AccountID resolves the account id owning the given organization code.
// Returns an error wrapping ErrNotFound when the organization is unknown.
func (d *Directory) AccountID(ctx context.Context, orgCode string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.accounts == nil {
		accounts, err := d.fetch(ctx)
		if err != nil {
			return "", err
		}
		d.accounts = accounts
	}

	accountID, ok := d.accounts[orgCode]
	if !ok || accountID == "" {
		return "", fmt.Errorf("%w: no account for organization %s", ErrNotFound, orgCode)
	}
	return accountID, nil
}
