package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Require is HTTP middleware that authenticates the request with authn and
// authorizes action with authz. The identity is attached to the request
// context. Failures are answered with a JSON error body: 401 when the caller
// is not authenticated, 403 when not permitted, 500 on internal errors.
//
// Usage:
//
//	mux.Handle("POST /control/message", auth.Require(authn, authz, auth.ActionSendMessage)(h))
func Require(authn Authenticator, authz Authorizer, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			result, err := authn.Authenticate(ctx, r.Header)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}
			if !result.Authenticated {
				msg := ErrInvalidCredentials.Error()
				if result.Error != nil {
					msg = result.Error.Error()
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="assetcache"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			if err := authz.Authorize(ctx, result.Identity, action); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, ErrForbidden) {
					status = http.StatusForbidden
				}
				writeError(w, status, ErrForbidden.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, result.Identity)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
