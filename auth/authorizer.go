package auth

import (
	"context"
	"fmt"
)

// Control-plane actions.
const (
	ActionSendMessage = "control:message"
	ActionReadStatus  = "control:status"
)

// Authorizer decides whether an identity may perform an action.
type Authorizer interface {
	// Authorize returns nil if allowed, or an error matching ErrForbidden.
	Authorize(ctx context.Context, id *Identity, action string) error
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	Subject string
	Action  string
	Reason  string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("auth: access denied: subject=%q action=%q reason=%q", e.Subject, e.Action, e.Reason)
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// RoleAuthorizer allows identities holding any of its roles.
type RoleAuthorizer struct {
	roles []string
}

// NewRoleAuthorizer creates an authorizer for roles.
// With no roles it defaults to RoleCacheAdmin.
func NewRoleAuthorizer(roles ...string) *RoleAuthorizer {
	if len(roles) == 0 {
		roles = []string{RoleCacheAdmin}
	}
	return &RoleAuthorizer{roles: roles}
}

// Authorize checks that id is present, unexpired and holds a permitted role.
func (a *RoleAuthorizer) Authorize(_ context.Context, id *Identity, action string) error {
	if id.IsAnonymous() {
		return &AuthzError{Action: action, Reason: "anonymous"}
	}
	for _, role := range a.roles {
		if id.HasRole(role) {
			return nil
		}
	}
	return &AuthzError{Subject: id.Principal, Action: action, Reason: "missing role"}
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, id *Identity, action string) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, id *Identity, action string) error {
	return f(ctx, id, action)
}

var (
	_ Authorizer = (*RoleAuthorizer)(nil)
	_ Authorizer = AuthorizerFunc(nil)
)
