package intake

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xela07ax/capgov/internal/domain"
)

// Rule is one restricted-category screen. Patterns are matched as
// case-insensitive substrings against the normalized intent text. The rule
// set is policy data owned by the policy team, not code.
type Rule struct {
	Category   domain.IntakeCategory `yaml:"category"`
	ReasonCode string                `yaml:"reason_code"`
	Patterns   []string              `yaml:"patterns"`
	Summary    string                `yaml:"summary"`
}

type Ruleset struct {
	Rules []Rule `yaml:"rules"`
}

// Match returns the first rule a pattern of which occurs in the normalized
// text. Deterministic: rule order and pattern order are fixed by the file.
func (rs Ruleset) Match(normalized string) (Rule, bool) {
	for _, r := range rs.Rules {
		for _, p := range r.Patterns {
			if p == "" {
				continue
			}
			if strings.Contains(normalized, strings.ToLower(p)) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// LoadRules reads the YAML rule list. Empty path means built-in defaults.
func LoadRules(path string) (Ruleset, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Ruleset{}, fmt.Errorf("intake rules: %w", err)
	}
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return Ruleset{}, fmt.Errorf("intake rules: parse %s: %w", path, err)
	}
	if len(rs.Rules) == 0 {
		return Ruleset{}, fmt.Errorf("intake rules: %s contains no rules", path)
	}
	return rs, nil
}

// DefaultRules ships a minimal baseline so the runtime screens something even
// with no rules file configured. Deployments are expected to replace it.
func DefaultRules() Ruleset {
	return Ruleset{Rules: []Rule{
		{
			Category:   domain.IntakeIPInfringement,
			ReasonCode: "ip_replication_request",
			Summary:    "request to replicate protected work or style",
			Patterns: []string{
				"replicate the style",
				"copy the design",
				"clone the catalog",
				"reproduce copyrighted",
			},
		},
		{
			Category:   domain.IntakeSafety,
			ReasonCode: "safety_language",
			Summary:    "self-harm or safety-sensitive language",
			Patterns: []string{
				"self-harm",
				"hurt themselves",
				"suicide",
			},
		},
	}}
}
