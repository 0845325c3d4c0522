package quotaguard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/quotaguard/core"
)

// Config holds file-loadable settings for the limiter and its
// admission boundary. Everything has a code default; the YAML file
// only needs the fields being overridden.
type Config struct {
	// Policies overrides the built-in per-action policy table
	Policies map[core.Action]core.Policy `yaml:"policies,omitempty"`

	// AnonymousID is the identity assigned to unauthenticated requests.
	// All unauthenticated traffic pools into this single set of buckets,
	// which is deliberate coarse protection; give anonymous traffic its
	// own tightened policy via Policies if that pooling is too blunt.
	AnonymousID string `yaml:"anonymous_id,omitempty"`

	// ExcludedPaths lists path prefixes the middleware never limits
	ExcludedPaths []string `yaml:"excluded_paths,omitempty"`

	// ActionRoutes maps request path prefixes to action classes.
	// The longest matching prefix wins; unmatched paths use api_call.
	ActionRoutes map[string]core.Action `yaml:"action_routes,omitempty"`

	// Redis configures the shared bucket store. Empty Addr means the
	// in-memory store is used instead.
	Redis RedisSettings `yaml:"redis,omitempty"`

	// Audit configures the durable audit store
	Audit AuditSettings `yaml:"audit,omitempty"`
}

// RedisSettings configure the shared bucket store connection.
type RedisSettings struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// AuditSettings configure audit persistence.
type AuditSettings struct {
	// Path is the SQLite database file. ":memory:" for tests.
	Path string `yaml:"path,omitempty"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Policies:    make(map[core.Action]core.Policy),
		AnonymousID: "anonymous",
		ExcludedPaths: []string{
			"/health",
			"/docs",
			"/redoc",
			"/openapi.json",
		},
		ActionRoutes: make(map[string]core.Action),
		Audit:       AuditSettings{Path: "quotaguard_audit.db"},
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid. Policy validation is
// fatal here, at load time — a bad policy is never a per-request error.
func (c *Config) Validate() error {
	for action, policy := range c.Policies {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: policy for action %q: %v", ErrInvalidConfig, action, err)
		}
	}
	for prefix, action := range c.ActionRoutes {
		if prefix == "" {
			return fmt.Errorf("%w: action route with empty path prefix", ErrInvalidConfig)
		}
		if action == "" {
			return fmt.Errorf("%w: action route %q maps to empty action", ErrInvalidConfig, prefix)
		}
	}
	if c.AnonymousID == "" {
		return fmt.Errorf("%w: anonymous_id cannot be empty", ErrInvalidConfig)
	}
	return nil
}
