// Package config loads the asset cache configuration from YAML.
//
// Environment references (${VAR}, ${VAR:-default}) are expanded before
// parsing, so secrets can be supplied through the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exaado/assetcache/auth"
	"github.com/exaado/assetcache/observe"
	"github.com/exaado/assetcache/secret"
)

// Sentinel errors.
var (
	ErrMissingListen    = errors.New("config: server.listen is required")
	ErrInvalidWriters   = errors.New("config: cache.write_concurrency must not be negative")
	ErrInvalidAPIKey    = errors.New("config: auth api key needs id and a sha256 hash")
	ErrConflictingJWT   = errors.New("config: auth.jwt.secret and auth.jwt.jwks_url are mutually exclusive")
	ErrInvalidStorePath = errors.New("config: store.path is a directory")
)

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Store   StoreConfig    `yaml:"store"`
	Cache   CacheConfig    `yaml:"cache"`
	Auth    AuthConfig     `yaml:"auth"`
	Observe observe.Config `yaml:"observe"`
}

// ServerConfig configures the HTTP front.
type ServerConfig struct {
	// Listen is the address to serve on.
	// Default: ":8080"
	Listen string `yaml:"listen"`

	// MetricsPath serves Prometheus metrics when the prometheus exporter is
	// selected. Default: "/metrics"
	MetricsPath string `yaml:"metrics_path"`

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the store backend.
type StoreConfig struct {
	// Path is the bbolt database file. Empty keeps the cache in memory.
	Path string `yaml:"path"`

	// OpenTimeout bounds the wait for the database lock.
	// Default: 1s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// CacheConfig tunes the cache worker.
type CacheConfig struct {
	// WaitForSkip keeps a freshly installed cache waiting until a
	// SKIP_WAITING control message arrives.
	WaitForSkip bool `yaml:"wait_for_skip"`

	// WriteConcurrency bounds concurrent background write-backs.
	// Default: 8
	WriteConcurrency int `yaml:"write_concurrency"`

	// MarkResponses adds X-Asset-Cache: HIT|MISS|STALE to cached responses.
	MarkResponses bool `yaml:"mark_responses"`
}

// AuthConfig configures control-plane authentication.
type AuthConfig struct {
	// APIKeyHeader carries API keys. Default: "X-API-Key"
	APIKeyHeader string `yaml:"api_key_header"`

	// APIKeys are the accepted keys, stored as SHA-256 hashes.
	APIKeys []auth.APIKey `yaml:"api_keys"`

	// JWT configures bearer token validation.
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig configures bearer token validation. Exactly one of Secret and
// JWKSURL enables it.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	JWKSURL    string        `yaml:"jwks_url"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	RolesClaim string        `yaml:"roles_claim"`
	Leeway     time.Duration `yaml:"leeway"`
}

// Enabled reports whether JWT validation is configured.
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.JWKSURL != ""
}

// ControlEnabled reports whether any control-plane credential is configured.
// Without one the control endpoints are not served.
func (a AuthConfig) ControlEnabled() bool {
	return len(a.APIKeys) > 0 || a.JWT.Enabled()
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{
		Observe: observe.Config{
			ServiceName: "assetcache",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Store.OpenTimeout <= 0 {
		c.Store.OpenTimeout = time.Second
	}
	if c.Cache.WriteConcurrency == 0 {
		c.Cache.WriteConcurrency = 8
	}
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "assetcache"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return ErrMissingListen
	}
	if c.Cache.WriteConcurrency < 0 {
		return ErrInvalidWriters
	}
	if c.Store.Path != "" {
		if fi, err := os.Stat(c.Store.Path); err == nil && fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrInvalidStorePath, c.Store.Path)
		}
	}
	for _, k := range c.Auth.APIKeys {
		if k.ID == "" || len(k.Hash) != 64 {
			return fmt.Errorf("%w: %q", ErrInvalidAPIKey, k.ID)
		}
	}
	if c.Auth.JWT.Secret != "" && c.Auth.JWT.JWKSURL != "" {
		return ErrConflictingJWT
	}
	return c.Observe.Validate()
}

// Load reads, expands, parses, defaults and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse is Load for an already open document.
func Parse(r io.Reader) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}

	expanded, err := secret.ExpandEnvStrict(string(raw))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var c Config
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
