package signature

import (
	"fmt"
	"regexp"
)

// Action tells the normalizer what to do when a Rule matches.
type Action int

const (
	// ActionIgnore discards the signature; Normalize reports it as not ok.
	ActionIgnore Action = iota
	// ActionRewrite replaces every match with Rule.Replacement.
	ActionRewrite
)

// Rule recognises signatures generated by bytecode-manipulating frameworks. Patterns
// are matched against the canonical rendering, where "$$" has already become "..".
type Rule struct {
	Name        string
	Pattern     string
	Action      Action
	Replacement string
}

// DefaultRules returns the built-in synthetic signature rules. Order matters: ignore
// rules for fast-class accessors must run before enhancer suffixes are stripped.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "fast-class", Pattern: `\.FastClass[A-Za-z]*\.\.`, Action: ActionIgnore},
		{Name: "cglib-accessor", Pattern: `\.CGLIB\$`, Action: ActionIgnore},
		{Name: "lambda-method", Pattern: `\.lambda\$`, Action: ActionIgnore},
		{Name: "lambda-class", Pattern: `\.\.Lambda`, Action: ActionIgnore},
		{Name: "javac-accessor", Pattern: `\.access\$\d+\(`, Action: ActionIgnore},
		{Name: "scala-anonfun", Pattern: `[.$]anonfun\$`, Action: ActionIgnore},
		{Name: "scala-setter", Pattern: `_\$eq\(`, Action: ActionIgnore},
		{Name: "jacoco-init", Pattern: `\$jacocoInit\(`, Action: ActionIgnore},
		{Name: "bytebuddy-auxiliary", Pattern: `\$auxiliary\$`, Action: ActionIgnore},
		{Name: "enhancer-suffix", Pattern: `\.\.Enhancer[A-Za-z]*\.\.[A-Za-z0-9_]+`, Action: ActionRewrite},
		{Name: "hibernate-proxy", Pattern: `\$HibernateProxy\$[A-Za-z0-9_]+`, Action: ActionRewrite},
		{Name: "bytebuddy-proxy", Pattern: `\$ByteBuddy\$[A-Za-z0-9_]+`, Action: ActionRewrite},
	}
}

// IgnoreRules turns plain regular expressions, typically taken from configuration,
// into ignore rules.
func IgnoreRules(patterns ...string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for i, p := range patterns {
		rules = append(rules, Rule{Name: fmt.Sprintf("custom-%d", i+1), Pattern: p, Action: ActionIgnore})
	}
	return rules
}

type compiledRule struct {
	Rule
	rx *regexp.Regexp
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		rx, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile synthetic rule %q: %w", r.Name, err)
		}
		out = append(out, compiledRule{Rule: r, rx: rx})
	}
	return out, nil
}
