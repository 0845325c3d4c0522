package quotaguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/quotaguard/core"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config == nil {
		t.Fatal("NewConfig() returned nil")
	}

	// Check defaults
	if config.AnonymousID != "anonymous" {
		t.Errorf("AnonymousID = %s, want anonymous", config.AnonymousID)
	}
	if len(config.ExcludedPaths) != 4 {
		t.Errorf("ExcludedPaths = %d entries, want 4", len(config.ExcludedPaths))
	}
	if config.ExcludedPaths[0] != "/health" {
		t.Errorf("ExcludedPaths[0] = %s, want /health", config.ExcludedPaths[0])
	}
	if config.Audit.Path != "quotaguard_audit.db" {
		t.Errorf("Audit.Path = %s, want quotaguard_audit.db", config.Audit.Path)
	}
	if config.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %s, want empty (in-memory store)", config.Redis.Addr)
	}
	if config.Policies == nil {
		t.Error("Policies map should be initialized")
	}
	if config.ActionRoutes == nil {
		t.Error("ActionRoutes map should be initialized")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotaguard.yaml")

	yaml := `
anonymous_id: guest
policies:
  chat_completion:
    max_requests: 3
    window_seconds: 30
    burst_multiplier: 1.0
action_routes:
  /api/v1/chat: chat_completion
excluded_paths:
  - /healthz
redis:
  addr: localhost:6379
  db: 2
audit:
  path: /var/lib/quotaguard/audit.db
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	config, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() failed: %v", err)
	}

	if config.AnonymousID != "guest" {
		t.Errorf("AnonymousID = %s, want guest", config.AnonymousID)
	}

	policy, ok := config.Policies[core.ActionChatCompletion]
	if !ok {
		t.Fatal("chat_completion policy should be loaded")
	}
	if policy.MaxRequests != 3 || policy.WindowSeconds != 30 {
		t.Errorf("policy = %+v, want 3 req / 30s", policy)
	}

	if config.ActionRoutes["/api/v1/chat"] != core.ActionChatCompletion {
		t.Errorf("ActionRoutes[/api/v1/chat] = %s, want chat_completion", config.ActionRoutes["/api/v1/chat"])
	}
	if len(config.ExcludedPaths) != 1 || config.ExcludedPaths[0] != "/healthz" {
		t.Errorf("ExcludedPaths = %v, want [/healthz]", config.ExcludedPaths)
	}
	if config.Redis.Addr != "localhost:6379" || config.Redis.DB != 2 {
		t.Errorf("Redis = %+v, want localhost:6379 db 2", config.Redis)
	}
	if config.Audit.Path != "/var/lib/quotaguard/audit.db" {
		t.Errorf("Audit.Path = %s, want /var/lib/quotaguard/audit.db", config.Audit.Path)
	}
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFromFile("/nonexistent/quotaguard.yaml")
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("error = %v, want %v", err, ErrInvalidConfig)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("policies: [not a map"), 0o644)

		_, err := LoadConfigFromFile(path)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("error = %v, want %v", err, ErrInvalidConfig)
		}
	})

	t.Run("invalid policy is fatal at load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad_policy.yaml")
		os.WriteFile(path, []byte(`
policies:
  search:
    max_requests: 0
    window_seconds: 60
    burst_multiplier: 1.0
`), 0o644)

		_, err := LoadConfigFromFile(path)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("error = %v, want %v", err, ErrInvalidConfig)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty anonymous id",
			mutate: func(c *Config) {
				c.AnonymousID = ""
			},
			wantErr: true,
		},
		{
			name: "empty route prefix",
			mutate: func(c *Config) {
				c.ActionRoutes[""] = core.ActionSearch
			},
			wantErr: true,
		},
		{
			name: "route to empty action",
			mutate: func(c *Config) {
				c.ActionRoutes["/api/v1/search"] = ""
			},
			wantErr: true,
		},
		{
			name: "invalid policy",
			mutate: func(c *Config) {
				c.Policies[core.ActionSearch] = core.Policy{MaxRequests: 10, WindowSeconds: 0, BurstMultiplier: 1.0}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
