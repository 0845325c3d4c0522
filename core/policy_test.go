package core

import (
	"errors"
	"testing"
)

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		wantErr     bool
		expectedErr error
	}{
		{
			name:    "valid policy",
			policy:  Policy{MaxRequests: 100, WindowSeconds: 60, BurstMultiplier: 1.5},
			wantErr: false,
		},
		{
			name:    "no burst",
			policy:  Policy{MaxRequests: 10, WindowSeconds: 60, BurstMultiplier: 1.0},
			wantErr: false,
		},
		{
			name:        "zero max requests",
			policy:      Policy{MaxRequests: 0, WindowSeconds: 60, BurstMultiplier: 1.0},
			wantErr:     true,
			expectedErr: ErrZeroMaxRequests,
		},
		{
			name:        "zero window",
			policy:      Policy{MaxRequests: 100, WindowSeconds: 0, BurstMultiplier: 1.0},
			wantErr:     true,
			expectedErr: ErrZeroWindow,
		},
		{
			name:        "burst below one",
			policy:      Policy{MaxRequests: 100, WindowSeconds: 60, BurstMultiplier: 0.5},
			wantErr:     true,
			expectedErr: ErrBurstBelowOne,
		},
		{
			name:        "zero burst",
			policy:      Policy{MaxRequests: 100, WindowSeconds: 60, BurstMultiplier: 0},
			wantErr:     true,
			expectedErr: ErrBurstBelowOne,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() expected error, got nil")
				}
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.expectedErr)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestPolicy_MaxCapacity(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   float64
	}{
		{
			name:   "no burst",
			policy: Policy{MaxRequests: 10, WindowSeconds: 60, BurstMultiplier: 1.0},
			want:   10,
		},
		{
			name:   "fractional burst floors down",
			policy: Policy{MaxRequests: 5, WindowSeconds: 60, BurstMultiplier: 1.5},
			want:   7,
		},
		{
			name:   "double burst",
			policy: Policy{MaxRequests: 5, WindowSeconds: 60, BurstMultiplier: 2.0},
			want:   10,
		},
		{
			name:   "default api policy",
			policy: Policy{MaxRequests: 100, WindowSeconds: 60, BurstMultiplier: 1.5},
			want:   150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.MaxCapacity(); got != tt.want {
				t.Errorf("MaxCapacity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_RefillRate(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   float64
	}{
		{
			name:   "one per second",
			policy: Policy{MaxRequests: 60, WindowSeconds: 60, BurstMultiplier: 1.0},
			want:   1.0,
		},
		{
			name:   "fractional rate",
			policy: Policy{MaxRequests: 5, WindowSeconds: 60, BurstMultiplier: 1.0},
			want:   5.0 / 60.0,
		},
		{
			name:   "above one per second",
			policy: Policy{MaxRequests: 100, WindowSeconds: 10, BurstMultiplier: 1.0},
			want:   10.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.RefillRate(); got != tt.want {
				t.Errorf("RefillRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRegistry(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		registry, err := NewRegistry(nil)
		if err != nil {
			t.Fatalf("NewRegistry() failed: %v", err)
		}

		policy := registry.Get(ActionChatCompletion)
		if policy.MaxRequests != 10 {
			t.Errorf("chat_completion MaxRequests = %d, want 10", policy.MaxRequests)
		}
		if len(registry.Actions()) != len(DefaultPolicies()) {
			t.Errorf("Actions() = %d entries, want %d", len(registry.Actions()), len(DefaultPolicies()))
		}
	})

	t.Run("override replaces default", func(t *testing.T) {
		registry, err := NewRegistry(map[Action]Policy{
			ActionSearch: {MaxRequests: 5, WindowSeconds: 30, BurstMultiplier: 1.0},
		})
		if err != nil {
			t.Fatalf("NewRegistry() failed: %v", err)
		}

		policy := registry.Get(ActionSearch)
		if policy.MaxRequests != 5 || policy.WindowSeconds != 30 {
			t.Errorf("overridden policy = %+v, want 5 req / 30s", policy)
		}

		// Other actions keep their defaults
		if registry.Get(ActionAPICall).MaxRequests != 100 {
			t.Error("override should not touch other actions")
		}
	})

	t.Run("invalid override rejected", func(t *testing.T) {
		_, err := NewRegistry(map[Action]Policy{
			ActionSearch: {MaxRequests: 0, WindowSeconds: 30, BurstMultiplier: 1.0},
		})
		if err == nil {
			t.Fatal("NewRegistry() expected error for invalid override, got nil")
		}
		if !errors.Is(err, ErrZeroMaxRequests) {
			t.Errorf("NewRegistry() error = %v, want %v", err, ErrZeroMaxRequests)
		}
	})

	t.Run("new action via override", func(t *testing.T) {
		custom := Action("report_export")
		registry, err := NewRegistry(map[Action]Policy{
			custom: {MaxRequests: 2, WindowSeconds: 60, BurstMultiplier: 1.0},
		})
		if err != nil {
			t.Fatalf("NewRegistry() failed: %v", err)
		}
		if registry.Get(custom).MaxRequests != 2 {
			t.Error("custom action should be registered")
		}
	})
}

func TestRegistry_Get_UnknownFallsBack(t *testing.T) {
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	unknown := registry.Get(Action("no_such_action"))
	fallback := registry.Get(DefaultAction)
	if unknown != fallback {
		t.Errorf("unknown action policy = %+v, want default %+v", unknown, fallback)
	}
}

func TestRegistry_Policies_Copy(t *testing.T) {
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	policies := registry.Policies()
	policies[ActionAPICall] = Policy{MaxRequests: 1, WindowSeconds: 1, BurstMultiplier: 1.0}

	if registry.Get(ActionAPICall).MaxRequests != 100 {
		t.Error("mutating the returned map should not affect the registry")
	}
}
