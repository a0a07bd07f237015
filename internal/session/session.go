// Package session carries the tenant context an invocation executes on
// behalf of. A session names the acting organization and, optionally, the
// acting user. Sessions travel inside the invocation envelope and are never
// persisted.
package session

import "encoding/json"

// Session identifies the acting organization (and optionally a user).
// The JSON field names are part of the wire contract and must not change.
type Session struct {
	OrganizationCode string `json:"organizationCode,omitempty"`
	UserID           string `json:"userId,omitempty"`
}

// New returns a session scoped to the given organization.
func New(organizationCode string) Session {
	return Session{OrganizationCode: organizationCode}
}

// ForOrganizations builds one session per organization code, preserving order.
func ForOrganizations(codes ...string) []Session {
	sessions := make([]Session, len(codes))
	for i, code := range codes {
		sessions[i] = New(code)
	}
	return sessions
}

// IsZero reports whether the session carries no tenant context at all.
func (s Session) IsZero() bool {
	return s.OrganizationCode == "" && s.UserID == ""
}

// MarshalRaw encodes the session for inclusion in an envelope.
func (s Session) MarshalRaw() (json.RawMessage, error) {
	return json.Marshal(s)
}
