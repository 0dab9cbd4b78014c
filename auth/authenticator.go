package auth

import (
	"context"
	"net/http"
)

// Authenticator validates request credentials and returns an identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines.
// - Errors: Authenticate returns (nil, error) for internal errors;
//   returns (AuthResult, nil) for auth failures (check result.Authenticated).
type Authenticator interface {
	// Name returns a unique identifier for this authenticator.
	Name() string

	// Supports reports whether h carries credentials this authenticator reads.
	Supports(h http.Header) bool

	// Authenticate validates the credentials in h.
	Authenticate(ctx context.Context, h http.Header) (*AuthResult, error)
}

// AuthResult is the result of an authentication attempt.
type AuthResult struct {
	// Authenticated is true if authentication succeeded.
	Authenticated bool

	// Identity is the authenticated identity (only if Authenticated=true).
	Identity *Identity

	// Error is the authentication error (only if Authenticated=false).
	Error error

	// Method names the authenticator that produced the result.
	Method string
}

// AuthSuccess creates a successful authentication result.
func AuthSuccess(identity *Identity) *AuthResult {
	return &AuthResult{
		Authenticated: true,
		Identity:      identity,
		Method:        string(identity.Method),
	}
}

// AuthFailure creates a failed authentication result.
func AuthFailure(err error, method string) *AuthResult {
	return &AuthResult{
		Authenticated: false,
		Error:         err,
		Method:        method,
	}
}

// AuthenticatorFunc adapts a function to Authenticator. It supports every
// request.
type AuthenticatorFunc func(ctx context.Context, h http.Header) (*AuthResult, error)

// Name returns "func".
func (f AuthenticatorFunc) Name() string { return "func" }

// Supports always returns true.
func (f AuthenticatorFunc) Supports(http.Header) bool { return true }

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, h http.Header) (*AuthResult, error) {
	return f(ctx, h)
}

var _ Authenticator = AuthenticatorFunc(nil)
