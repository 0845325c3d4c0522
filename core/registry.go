package core

import "fmt"

// DefaultAction is the fallback policy used for unrecognized actions.
const DefaultAction = ActionAPICall

// DefaultPolicies returns the built-in policy table.
// These are tuned for an API that fronts LLM-provider calls: cheap
// CRUD traffic gets generous limits, expensive completions get tight ones.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionAPICall:             {MaxRequests: 100, WindowSeconds: 60, BurstMultiplier: 1.5},
		ActionEmbeddingGeneration: {MaxRequests: 20, WindowSeconds: 60, BurstMultiplier: 1.2},
		ActionChatCompletion:      {MaxRequests: 10, WindowSeconds: 60, BurstMultiplier: 1.0},
		ActionCodeValidation:      {MaxRequests: 30, WindowSeconds: 60, BurstMultiplier: 1.3},
		ActionSearch:              {MaxRequests: 50, WindowSeconds: 60, BurstMultiplier: 1.5},
		ActionSimilaritySearch:    {MaxRequests: 50, WindowSeconds: 60, BurstMultiplier: 1.5},
		ActionBulkCreate:          {MaxRequests: 5, WindowSeconds: 60, BurstMultiplier: 1.0},
		ActionBulkUpdate:          {MaxRequests: 5, WindowSeconds: 60, BurstMultiplier: 1.0},
	}
}

// Registry maps action classes to their rate limit policies.
// It is loaded once at startup and read-only afterward, so no
// locking is needed for concurrent lookups.
type Registry struct {
	policies map[Action]Policy
}

// NewRegistry builds a registry from the built-in policy table,
// with optional per-action overrides layered on top.
// Invalid overrides are rejected (fatal at startup, never per-request).
func NewRegistry(overrides map[Action]Policy) (*Registry, error) {
	policies := DefaultPolicies()
	for action, policy := range overrides {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("policy for action %q: %w", action, err)
		}
		policies[action] = policy
	}
	return &Registry{policies: policies}, nil
}

// Get returns the policy for an action, falling back to the default
// policy when the action is unrecognized. Unknown actions are not an error.
func (r *Registry) Get(action Action) Policy {
	if policy, ok := r.policies[action]; ok {
		return policy
	}
	return r.policies[DefaultAction]
}

// Actions returns every action class the registry knows about.
func (r *Registry) Actions() []Action {
	actions := make([]Action, 0, len(r.policies))
	for action := range r.policies {
		actions = append(actions, action)
	}
	return actions
}

// Policies returns a copy of the full policy table, for operator inspection.
func (r *Registry) Policies() map[Action]Policy {
	out := make(map[Action]Policy, len(r.policies))
	for action, policy := range r.policies {
		out[action] = policy
	}
	return out
}
