// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package security

// Classifier assigns a risk level to a proposed tool call. The shell
// danger-classification engine plugs in behind this interface; the
// built-in RuleClassifier only matches tool names.
type Classifier interface {
	Classify(toolName string, arguments string) RiskLevel
}

// Rule maps a set of tool-name patterns to a risk level.
type Rule struct {
	Patterns PatternSet
	Level    RiskLevel
}

// RuleClassifier classifies by the first matching rule, falling back
// to a default level.
type RuleClassifier struct {
	rules        []Rule
	defaultLevel RiskLevel
}

// NewRuleClassifier builds a classifier from ordered rules. The first
// rule whose pattern set matches the tool name wins.
func NewRuleClassifier(defaultLevel RiskLevel, rules ...Rule) *RuleClassifier {
	return &RuleClassifier{
		rules:        append([]Rule(nil), rules...),
		defaultLevel: defaultLevel,
	}
}

// DefaultClassifier returns the built-in rule set: read-style tools are
// safe, file mutation is medium, process execution is high, and
// anything unknown defaults to medium.
func DefaultClassifier() *RuleClassifier {
	return NewRuleClassifier(RiskMedium,
		Rule{
			Patterns: NewPatternSet("read", "glob", "grep", "list_dir", "web_search", "web_fetch"),
			Level:    RiskSafe,
		},
		Rule{
			Patterns: NewPatternSet("write", "edit", "apply_patch", "task"),
			Level:    RiskMedium,
		},
		Rule{
			Patterns: NewPatternSet("shell", "bash", "exec*"),
			Level:    RiskHigh,
		},
	)
}

func (c *RuleClassifier) Classify(toolName string, _ string) RiskLevel {
	for _, rule := range c.rules {
		if rule.Patterns.Contains(toolName) {
			return rule.Level
		}
	}
	return c.defaultLevel
}
