// Package policyfile loads security policies from a YAML file. It serves
// deployments that do not run the dashboard settings API.
package policyfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// Source implements policy.Source from a YAML document of the form:
//
//	default:
//	  security:
//	    pathSandbox: {enabled: true, allowedDirs: [/workspace]}
//	agents:
//	  agent-1:
//	    commandSanitizer: {enabled: true, mode: allowlist, allowedCommands: [git]}
//
// Key names follow the wire format of the settings API. Reload swaps the
// parsed document atomically; readers always see a complete snapshot.
type Source struct {
	path string

	mu        sync.RWMutex
	def       policy.ToolSecurity
	overrides map[string]*policy.Override
}

// Load parses the policy file at path.
func Load(path string) (*Source, error) {
	s := &Source{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On parse failure the previous snapshot stays in
// effect and the error is returned.
func (s *Source) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	def, overrides, err := parsePolicyDoc(data)
	if err != nil {
		return fmt.Errorf("parse policy file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.def = def
	s.overrides = overrides
	s.mu.Unlock()
	return nil
}

// OrgDefault returns the file's default policy.
func (s *Source) OrgDefault(_ context.Context) (policy.ToolSecurity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def, nil
}

// AgentOverride returns the override for agentID, or nil when the file has
// no entry for that agent.
func (s *Source) AgentOverride(_ context.Context, agentID string) (*policy.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[agentID], nil
}

// parsePolicyDoc decodes YAML through a JSON round trip so the camelCase
// keys of the policy wire format apply to YAML documents as well.
func parsePolicyDoc(data []byte) (policy.ToolSecurity, map[string]*policy.Override, error) {
	var doc struct {
		Default map[string]interface{}            `yaml:"default"`
		Agents  map[string]map[string]interface{} `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return policy.ToolSecurity{}, nil, err
	}

	def := policy.DefaultToolSecurity()
	if doc.Default != nil {
		if err := remarshal(doc.Default, &def); err != nil {
			return policy.ToolSecurity{}, nil, fmt.Errorf("default section: %w", err)
		}
	}

	overrides := make(map[string]*policy.Override, len(doc.Agents))
	for agentID, raw := range doc.Agents {
		var ov policy.Override
		if err := remarshal(raw, &ov); err != nil {
			return policy.ToolSecurity{}, nil, fmt.Errorf("agent %s: %w", agentID, err)
		}
		overrides[agentID] = &ov
	}

	return def, overrides, nil
}

func remarshal(src map[string]interface{}, dst interface{}) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// Compile-time interface verification.
var _ policy.Source = (*Source)(nil)
