// Package broker acquires and caches short-lived credentials scoped to a
// target organization's execution role, and hands out invocation clients
// built from them.
//
// The cache is process-local. The mutex protects map integrity only: two
// concurrent requests for a brand-new organization may each perform one
// redundant exchange, and the last write wins. The exchange is idempotent,
// so this race is intentional and must not be "fixed" with per-key locking.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/transport"
)

// DefaultSessionDuration bounds how long an assumed-role session lives.
const DefaultSessionDuration = 30 * time.Minute

// Credentials is the opaque access material returned by an exchange,
// together with its expiry.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Exchanger performs the credential-broker exchange: it presents this
// process's identity plus a role reference and returns short-lived access
// material. A nil result with a nil error means the broker answered empty.
type Exchanger interface {
	Exchange(ctx context.Context, roleARN, sessionName string, duration time.Duration) (*Credentials, error)
}

// ClientFactory builds an invocation client from exchanged credentials.
// A nil credentials value asks for the process-identity client.
type ClientFactory func(creds *Credentials) transport.Transport

// ExchangeError reports a failed or empty broker exchange. It is fatal for
// the call that triggered it and is never retried internally.
type ExchangeError struct {
	RoleARN string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker: could not assume role %s: %v", e.RoleARN, e.Err)
	}
	return fmt.Sprintf("broker: empty exchange response for role %s", e.RoleARN)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

type cacheEntry struct {
	creds  *Credentials
	client transport.Transport
}

// Broker is the credential broker cache.
type Broker struct {
	exchanger   Exchanger
	factory     ClientFactory
	roleName    string
	sessionName string
	duration    time.Duration
	clock       func() time.Time

	mu    sync.RWMutex
	cache map[string]*cacheEntry

	baseOnce sync.Once
	base     transport.Transport
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the expiry clock. Tests use this to make expiry
// deterministic.
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) { b.clock = clock }
}

// WithSessionDuration overrides the assumed-role session duration.
func WithSessionDuration(d time.Duration) Option {
	return func(b *Broker) { b.duration = d }
}

// New builds a Broker. roleName is the fixed execution role assumed in the
// target organization's account; sessionName identifies this service to the
// credential broker.
func New(exchanger Exchanger, factory ClientFactory, roleName, sessionName string, opts ...Option) *Broker {
	b := &Broker{
		exchanger:   exchanger,
		factory:     factory,
		roleName:    roleName,
		sessionName: sessionName,
		duration:    DefaultSessionDuration,
		clock:       time.Now,
		cache:       make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client returns the process-identity client, usable for same-organization
// invocations without any role assumption. Built once, lazily.
func (b *Broker) Client() transport.Transport {
	b.baseOnce.Do(func() {
		b.base = b.factory(nil)
	})
	return b.base
}

// ClientForOrganization returns a client whose calls are authorized to act
// on behalf of orgID. Cached clients are returned unchanged while their
// credentials are strictly unexpired; expired entries are replaced, never
// mutated.
func (b *Broker) ClientForOrganization(ctx context.Context, orgID string) (transport.Transport, error) {
	if client := b.cached(orgID); client != nil {
		metrics.CredentialCacheHit()
		return client, nil
	}
	metrics.CredentialCacheMiss()

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", orgID, b.roleName)

	creds, err := b.exchanger.Exchange(ctx, roleARN, b.sessionName, b.duration)
	if err != nil {
		metrics.BrokerExchange("error")
		logging.Op().Warn("credential exchange failed", "role_arn", roleARN, "error", err)
		return nil, &ExchangeError{RoleARN: roleARN, Err: err}
	}
	if creds == nil {
		metrics.BrokerExchange("empty")
		return nil, &ExchangeError{RoleARN: roleARN}
	}
	metrics.BrokerExchange("ok")

	client := b.factory(creds)

	b.mu.Lock()
	b.cache[orgID] = &cacheEntry{creds: creds, client: client}
	b.mu.Unlock()

	return client, nil
}

// cached returns the live client for orgID, or nil on a miss or an expired
// entry. Exact key match only.
func (b *Broker) cached(orgID string) transport.Transport {
	b.mu.RLock()
	entry, ok := b.cache[orgID]
	b.mu.RUnlock()

	if !ok || !b.clock().Before(entry.creds.ExpiresAt) {
		return nil
	}
	return entry.client
}
