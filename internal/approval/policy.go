package approval

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Policy describes how a policy code behaves: whether it blocks the gated
// command behind a human decision, and which external board pipeline its
// requests are projected onto.
type Policy struct {
	PipelineID string `yaml:"pipeline_id"`
	Blocking   bool   `yaml:"blocking"`
}

type policyFile struct {
	Policies map[string]Policy `yaml:"policies"`
}

// StaticPolicySource resolves policy codes from a static YAML file. Unknown
// codes resolve to a blocking policy with no pipeline, so a typo in a
// definition fails safe instead of waving the command through.
type StaticPolicySource struct {
	path     string
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewStaticPolicySource creates a source that loads policies from path.
func NewStaticPolicySource(path string) (*StaticPolicySource, error) {
	s := &StaticPolicySource{path: path}
	if err := s.Sync(); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the policy for a code and whether it was declared.
func (s *StaticPolicySource) Lookup(code string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[code]
	return p, ok
}

// Blocking reports whether a policy code requires an approval before the
// gated command may execute.
func (s *StaticPolicySource) Blocking(code string) bool {
	p, ok := s.Lookup(code)
	if !ok {
		return true
	}
	return p.Blocking
}

// Sync reloads the policy file from disk.
func (s *StaticPolicySource) Sync() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("approval: reading policy file %s: %w", s.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("approval: parsing policy file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.policies = f.Policies
	s.mu.Unlock()
	return nil
}
