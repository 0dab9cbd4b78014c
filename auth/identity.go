package auth

import (
	"slices"
	"time"
)

// RoleCacheAdmin may send control messages and read cache status.
const RoleCacheAdmin = "cache-admin"

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	AuthMethodNone      AuthMethod = "none"
	AuthMethodJWT       AuthMethod = "jwt"
	AuthMethodAPIKey    AuthMethod = "api_key"
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Principal identifies the caller (key ID owner, token subject).
	Principal string

	// Roles are the roles granted to the caller.
	Roles []string

	// Method indicates how authentication was performed.
	Method AuthMethod

	// Claims holds token claims, or key metadata for API keys.
	Claims map[string]any

	// ExpiresAt is when the credential expires (zero = never).
	ExpiresAt time.Time
}

// HasRole reports whether the identity carries role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Roles, role)
}

// IsExpired reports whether the credential has expired at now.
func (id *Identity) IsExpired(now time.Time) bool {
	if id == nil || id.ExpiresAt.IsZero() {
		return false
	}
	return now.After(id.ExpiresAt)
}

// IsAnonymous returns true if this is an anonymous identity.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.Method == AuthMethodAnonymous || id.Principal == ""
}
