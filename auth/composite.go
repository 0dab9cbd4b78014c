package auth

import (
	"context"
	"net/http"
)

// CompositeAuthenticator tries authenticators in order and returns the first
// success. Authenticators that do not support the request are skipped.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator creates a composite authenticator. Nil entries
// are ignored.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	c := &CompositeAuthenticator{}
	for _, a := range auths {
		if a != nil {
			c.authenticators = append(c.authenticators, a)
		}
	}
	return c
}

// Name returns "composite".
func (c *CompositeAuthenticator) Name() string {
	return "composite"
}

// Len returns the number of configured authenticators.
func (c *CompositeAuthenticator) Len() int {
	return len(c.authenticators)
}

// Supports returns true if any authenticator supports the request.
func (c *CompositeAuthenticator) Supports(h http.Header) bool {
	for _, a := range c.authenticators {
		if a.Supports(h) {
			return true
		}
	}
	return false
}

// Authenticate returns the first successful result, or the last failure.
func (c *CompositeAuthenticator) Authenticate(ctx context.Context, h http.Header) (*AuthResult, error) {
	var last *AuthResult
	for _, a := range c.authenticators {
		if !a.Supports(h) {
			continue
		}

		result, err := a.Authenticate(ctx, h)
		if err != nil {
			return nil, err
		}
		if result.Authenticated {
			return result, nil
		}
		last = result
	}

	if last != nil {
		return last, nil
	}
	return AuthFailure(ErrMissingCredentials, c.Name()), nil
}

var _ Authenticator = (*CompositeAuthenticator)(nil)
