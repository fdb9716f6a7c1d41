package intercept

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML representation of a policy.
//
//	rules:
//	  - name: navigation
//	    match: {navigate: true}
//	    strategy: navigation-fallback
//	  - name: api
//	    match: {path_prefix: /api/}
//	    strategy: network-first
//	  - name: static
//	    strategy: cache-first
type PolicyFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule in a policy file. All set match fields must hold.
type RuleSpec struct {
	Name     string    `yaml:"name"`
	Match    MatchSpec `yaml:"match"`
	Strategy string    `yaml:"strategy"`
}

// MatchSpec lists the predicates a rule can combine.
type MatchSpec struct {
	Navigate     *bool    `yaml:"navigate,omitempty"`
	PathPrefix   string   `yaml:"path_prefix,omitempty"`
	PathContains string   `yaml:"path_contains,omitempty"`
	HostContains string   `yaml:"host_contains,omitempty"`
	Extension    []string `yaml:"extension,omitempty"`
}

// LoadPolicyFile reads and compiles a YAML policy file.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy compiles YAML policy data.
func ParsePolicy(data []byte) (*Policy, error) {
	var f PolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("policy has no rules")
	}

	p := &Policy{Rules: make([]Rule, 0, len(f.Rules))}
	for i, spec := range f.Rules {
		strategy, err := ParseStrategy(spec.Strategy)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		p.Rules = append(p.Rules, Rule{
			Name:     name,
			Match:    spec.Match.compile(),
			Strategy: strategy,
		})
	}
	return p, nil
}

func (m MatchSpec) compile() Predicate {
	var preds []Predicate
	if m.Navigate != nil {
		want := *m.Navigate
		preds = append(preds, func(r *http.Request) bool { return IsNavigation(r) == want })
	}
	if m.PathPrefix != "" {
		preds = append(preds, PathPrefix(m.PathPrefix))
	}
	if m.PathContains != "" {
		preds = append(preds, PathContains(m.PathContains))
	}
	if m.HostContains != "" {
		preds = append(preds, HostContains(m.HostContains))
	}
	if len(m.Extension) > 0 {
		preds = append(preds, Extension(m.Extension...))
	}
	if len(preds) == 0 {
		return Any
	}
	return All(preds...)
}
