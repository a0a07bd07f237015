// Package naming maps logical function names, plus an optional owning
// organization, into invocable addresses. The gateway treats resolution as
// an external concern behind the Resolver interface; the default resolver
// formats platform naming conventions from deployment configuration and a
// cross-service account directory.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports an unresolvable name: an unknown function, or no
// routable address for the owning organization in this deployment.
var ErrNotFound = errors.New("naming: function not found")

// Address is a resolved invocation target.
type Address struct {
	// Name is the fully-qualified function name the transport invokes.
	Name string

	// OrganizationID identifies the owning organization's account when the
	// target lives outside this process's own organization. Empty for
	// same-organization targets.
	OrganizationID string
}

// Resolver resolves a logical function name into an invocable address.
type Resolver interface {
	// Resolve maps name (TitleCase or dash-case) to an address. ownerOrg,
	// when non-empty, names the organization code of the service owning
	// the target. Returns ErrNotFound for unknown names or unroutable
	// organizations.
	Resolve(ctx context.Context, name, ownerOrg string) (Address, error)
}

// EnvResolver formats addresses from deployment configuration: the local
// service name and environment for same-service targets, and the account
// directory for cross-service ones.
type EnvResolver struct {
	ServiceName string
	Env         string
	Directory   *Directory
}

func (r *EnvResolver) Resolve(ctx context.Context, name, ownerOrg string) (Address, error) {
	if r.ServiceName == "" {
		return Address{}, fmt.Errorf("%w: no service name configured", ErrNotFound)
	}

	if ownerOrg == "" {
		return Address{
			Name: fmt.Sprintf("%s-%s-%s", TitleCase(r.ServiceName), r.Env, TitleCase(name)),
		}, nil
	}

	if r.Directory == nil {
		return Address{}, fmt.Errorf("%w: no account directory for cross-service target %s", ErrNotFound, ownerOrg)
	}
	accountID, err := r.Directory.AccountID(ctx, ownerOrg)
	if err != nil {
		return Address{}, err
	}

	return Address{
		Name:           fmt.Sprintf("%s:function:API-%s-%s-%s", accountID, TitleCase(ownerOrg), TitleCase(name), r.Env),
		OrganizationID: accountID,
	}, nil
}

// TitleCase converts a dash-case name to TitleCase. Names already in
// TitleCase pass through unchanged.
func TitleCase(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '-' {
			upper = true
			continue
		}
		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
