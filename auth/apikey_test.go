package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestHashAPIKey(t *testing.T) {
	// echo -n "secret" | sha256sum
	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashAPIKey("secret"); got != want {
		t.Errorf("HashAPIKey() = %s, want %s", got, want)
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAPIKeyAuthenticator("",
		APIKey{ID: "ops", Hash: HashAPIKey("ops-key"), Principal: "ops", Roles: []string{RoleCacheAdmin}},
		APIKey{ID: "old", Hash: HashAPIKey("old-key"), Principal: "old", ExpiresAt: now.Add(-time.Hour)},
	)
	a.now = func() time.Time { return now }

	tests := []struct {
		name    string
		key     string
		wantOK  bool
		wantErr error
	}{
		{"valid", "ops-key", true, nil},
		{"valid with whitespace", "  ops-key ", true, nil},
		{"unknown", "nope", false, ErrInvalidCredentials},
		{"expired", "old-key", false, ErrTokenExpired},
		{"missing", "", false, ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.key != "" {
				h.Set(DefaultAPIKeyHeader, tt.key)
			}
			result, err := a.Authenticate(context.Background(), h)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if result.Authenticated != tt.wantOK {
				t.Fatalf("Authenticated = %v, want %v", result.Authenticated, tt.wantOK)
			}
			if tt.wantOK {
				if !result.Identity.HasRole(RoleCacheAdmin) {
					t.Error("identity should carry cache-admin")
				}
				if result.Identity.Claims["key_id"] != "ops" {
					t.Errorf("key_id claim = %v", result.Identity.Claims["key_id"])
				}
				return
			}
			if !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("Error = %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyAuthenticator_SupportsAndRemove(t *testing.T) {
	a := NewAPIKeyAuthenticator("X-Control-Key", APIKey{ID: "k", Hash: HashAPIKey("k"), Principal: "k"})

	h := http.Header{}
	if a.Supports(h) {
		t.Error("Supports() without header = true")
	}
	h.Set("X-Control-Key", "k")
	if !a.Supports(h) {
		t.Error("Supports() with custom header = false")
	}

	a.Remove(HashAPIKey("k"))
	result, _ := a.Authenticate(context.Background(), h)
	if result.Authenticated {
		t.Error("removed key still authenticates")
	}
}

func TestAPIKeyAuthenticator_PrincipalDefaultsToID(t *testing.T) {
	a := NewAPIKeyAuthenticator("", APIKey{ID: "ops", Hash: HashAPIKey("ops-key"), Roles: []string{RoleCacheAdmin}})

	h := http.Header{}
	h.Set(DefaultAPIKeyHeader, "ops-key")
	res, err := a.Authenticate(context.Background(), h)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !res.Authenticated {
		t.Fatalf("Authenticate() not authenticated: %v", res.Error)
	}
	if res.Identity.Principal != "ops" {
		t.Errorf("Principal = %q, want key ID %q", res.Identity.Principal, "ops")
	}
	if res.Identity.IsAnonymous() {
		t.Error("identity for a configured key is anonymous")
	}
	if err := NewRoleAuthorizer().Authorize(context.Background(), res.Identity, ActionSendMessage); err != nil {
		t.Errorf("Authorize() error = %v", err)
	}
}
