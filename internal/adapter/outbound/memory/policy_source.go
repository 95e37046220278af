package memory

import (
	"context"
	"sync"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// PolicySource implements policy.Source from in-memory state. Used in
// tests and for single-process deployments where policy comes from the
// local config file rather than the settings service.
type PolicySource struct {
	mu        sync.RWMutex
	def       policy.ToolSecurity
	overrides map[string]*policy.Override
}

// NewPolicySource creates a source seeded with the given org default.
func NewPolicySource(def policy.ToolSecurity) *PolicySource {
	return &PolicySource{def: def, overrides: make(map[string]*policy.Override)}
}

// SetOrgDefault replaces the organization default. Takes effect on the
// next invocation since the pipeline re-resolves policy per call.
func (s *PolicySource) SetOrgDefault(def policy.ToolSecurity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = def
}

// SetAgentOverride installs or replaces one agent's override. A nil
// override removes it.
func (s *PolicySource) SetAgentOverride(agentID string, o *policy.Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o == nil {
		delete(s.overrides, agentID)
		return
	}
	s.overrides[agentID] = o
}

// OrgDefault returns the organization default policy.
func (s *PolicySource) OrgDefault(ctx context.Context) (policy.ToolSecurity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def, nil
}

// AgentOverride returns the agent's override, or nil when none is set.
func (s *PolicySource) AgentOverride(ctx context.Context, agentID string) (*policy.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[agentID], nil
}

// Compile-time interface verification.
var _ policy.Source = (*PolicySource)(nil)
