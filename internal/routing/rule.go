package routing

import (
	"strings"

	apperrors "mailroute/pkg/errors"
)

// Rule maps a condition to a target queue. Higher Priority is evaluated, and
// wins, first.
//
// The zero value of Enabled is false: a Rule literal passed straight to
// RuleSet.Add is stored but never evaluated unless Enabled is set. Rules built
// with RuleDefinition.ToRule default to enabled.
type Rule struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Condition   string            `json:"condition"`
	Action      string            `json:"action"`
	Priority    int               `json:"priority"`
	Enabled     bool              `json:"enabled"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RuleDefinition is the loose shape rules arrive in from config files, the
// operator API and exports. Enabled defaults to true when omitted.
type RuleDefinition struct {
	Name        string            `json:"name" yaml:"name" mapstructure:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Condition   string            `json:"condition" yaml:"condition" mapstructure:"condition"`
	Action      string            `json:"action" yaml:"action" mapstructure:"action"`
	Priority    int               `json:"priority" yaml:"priority" mapstructure:"priority"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
}

// ToRule checks the required fields and applies defaults. It does not compile
// the condition; RuleSet.Add does.
func (d RuleDefinition) ToRule() (Rule, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Rule{}, apperrors.ErrConfiguration.WithMessage("rule name is required")
	}
	if strings.TrimSpace(d.Condition) == "" {
		return Rule{}, apperrors.ErrConfiguration.WithMessage("rule %q: condition is required", name).WithDetail("rule", name)
	}
	if strings.TrimSpace(d.Action) == "" {
		return Rule{}, apperrors.ErrConfiguration.WithMessage("rule %q: action is required", name).WithDetail("rule", name)
	}

	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}

	return Rule{
		Name:        name,
		Description: d.Description,
		Condition:   d.Condition,
		Action:      strings.TrimSpace(d.Action),
		Priority:    d.Priority,
		Enabled:     enabled,
		Metadata:    copyMetadata(d.Metadata),
	}, nil
}

func (r Rule) Definition() RuleDefinition {
	enabled := r.Enabled
	return RuleDefinition{
		Name:        r.Name,
		Description: r.Description,
		Condition:   r.Condition,
		Action:      r.Action,
		Priority:    r.Priority,
		Enabled:     &enabled,
		Metadata:    copyMetadata(r.Metadata),
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
