package secret

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ErrMissingEnv is returned when a required variable is not set.
var ErrMissingEnv = errors.New("secret: missing required environment variables")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// LookupFunc resolves a variable name, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ExpandEnvStrict expands environment variables in s.
//
// Semantics:
//   - `$VAR` and `${VAR}` are replaced by the variable's value.
//   - `${VAR:-default}` uses default when VAR is unset or empty.
//   - `${VAR}` with VAR unset is an error naming every missing variable.
//     Bare `$VAR` expands to "" when unset.
//   - `$$` emits a literal `$`.
func ExpandEnvStrict(s string) (string, error) {
	return Expand(s, os.LookupEnv)
}

// Expand is ExpandEnvStrict with a custom lookup.
func Expand(s string, lookup LookupFunc) (string, error) {
	const dollar = "\x00ASSETCACHE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		key, hasDefault := m[1], m[2] != ""
		if _, ok := lookup(key); !ok && !hasDefault && !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	s = os.Expand(s, func(name string) string {
		key, def, _ := strings.Cut(name, ":-")
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	})
	return strings.ReplaceAll(s, dollar, "$"), nil
}
