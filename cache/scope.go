package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// AllowedHost is the only origin whose assets are cached.
const AllowedHost = "exaado.plebits.com"

// PathMarkers are the path substrings that identify cacheable assets.
var PathMarkers = []string{"course_", "category_", "course_bundles/"}

// Scope decides which requests the Transport engages for.
// A request is in scope when its host equals Host and its path contains at
// least one of PathMarkers.
type Scope struct {
	Host        string
	PathMarkers []string
}

// DefaultScope returns the compiled-in eligibility rule.
func DefaultScope() Scope {
	markers := make([]string, len(PathMarkers))
	copy(markers, PathMarkers)
	return Scope{
		Host:        AllowedHost,
		PathMarkers: markers,
	}
}

// Match reports whether u is an in-scope asset URL.
func (s Scope) Match(u *url.URL) bool {
	if u == nil || s.Host == "" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), s.Host) {
		return false
	}
	for _, marker := range s.PathMarkers {
		if marker != "" && strings.Contains(u.Path, marker) {
			return true
		}
	}
	return false
}

// Eligible reports whether req is a GET for an in-scope URL.
func (s Scope) Eligible(req *http.Request) bool {
	if req == nil || req.Method != http.MethodGet {
		return false
	}
	return s.Match(req.URL)
}
