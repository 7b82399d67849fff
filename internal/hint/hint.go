// Package hint matches database error messages against configured patterns
// and returns operator-written guidance to append to the tool error, for
// example pointing a client at the right schema after a relation-not-found
// error.
package hint

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule binds an error-message regex to a guidance message.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against all rules.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles the rule set. Returns an error on invalid regex
// patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("hint: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks the error message against every rule, top to bottom, and
// returns the matching guidance messages joined with newlines. Empty string
// means no rule matched.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns that matched, for logging. Nil if no
// match.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}
