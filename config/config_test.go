package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exaado/assetcache/auth"
	"github.com/exaado/assetcache/secret"
)

const sample = `
server:
  listen: "127.0.0.1:9090"
  shutdown_timeout: 30s
store:
  path: ${ASSETCACHE_TEST_DIR}/assets.db
cache:
  wait_for_skip: true
  write_concurrency: 2
  mark_responses: true
auth:
  api_keys:
    - id: ops
      hash: ${ASSETCACHE_TEST_KEY_HASH}
      principal: ops
      roles: [cache-admin]
  jwt:
    secret: ${ASSETCACHE_TEST_JWT_SECRET:-dev-secret}
    issuer: exaado
observe:
  service_name: assetcache
  logging:
    enabled: true
    level: debug
  metrics:
    enabled: true
    exporter: prometheus
`

func TestParse(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ASSETCACHE_TEST_DIR", dir)
	t.Setenv("ASSETCACHE_TEST_KEY_HASH", auth.HashAPIKey("ops-key"))

	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", c.Server.Listen)
	assert.Equal(t, 30*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, c.Server.ReadHeaderTimeout, "default applied")
	assert.Equal(t, "/metrics", c.Server.MetricsPath)
	assert.Equal(t, filepath.Join(dir, "assets.db"), c.Store.Path)
	assert.Equal(t, time.Second, c.Store.OpenTimeout)
	assert.True(t, c.Cache.WaitForSkip)
	assert.Equal(t, 2, c.Cache.WriteConcurrency)
	assert.True(t, c.Cache.MarkResponses)
	require.Len(t, c.Auth.APIKeys, 1)
	assert.Equal(t, []string{auth.RoleCacheAdmin}, c.Auth.APIKeys[0].Roles)
	assert.Equal(t, "dev-secret", c.Auth.JWT.Secret)
	assert.True(t, c.Auth.ControlEnabled())
	assert.Equal(t, "prometheus", c.Observe.Metrics.Exporter)
}

func TestParse_MissingEnv(t *testing.T) {
	_, err := Parse(strings.NewReader("store:\n  path: ${ASSETCACHE_TEST_UNSET_VAR}\n"))
	assert.ErrorIs(t, err, secret.ErrMissingEnv)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("server:\n  listn: :80\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, c.Server)
	assert.Equal(t, 8, c.Cache.WriteConcurrency)
	assert.False(t, c.Auth.ControlEnabled())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"negative writers", func(c *Config) { c.Cache.WriteConcurrency = -1 }, ErrInvalidWriters},
		{"short key hash", func(c *Config) { c.Auth.APIKeys = []auth.APIKey{{ID: "x", Hash: "abc"}} }, ErrInvalidAPIKey},
		{"key without id", func(c *Config) { c.Auth.APIKeys = []auth.APIKey{{Hash: auth.HashAPIKey("k")}} }, ErrInvalidAPIKey},
		{"secret and jwks", func(c *Config) { c.Auth.JWT = JWTConfig{Secret: "s", JWKSURL: "https://idp/jwks"} }, ErrConflictingJWT},
		{"store path is dir", func(c *Config) { c.Store.Path = dir }, ErrInvalidStorePath},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }, ErrMissingListen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":7000\"\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.Server.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
