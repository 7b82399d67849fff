// Package timeout resolves per-query execution deadlines from SQL pattern
// rules.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule binds a SQL regex pattern to a timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config holds the resolver's rule set and fallback.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Resolver picks the timeout for a query by matching its SQL text.
type Resolver struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewResolver compiles the rule set. Returns an error on invalid regex
// patterns.
func NewResolver(config Config) (*Resolver, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Resolver{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// Resolve returns the timeout for the given SQL along with the pattern that
// matched, first rule wins. An empty pattern means the default applied.
func (r *Resolver) Resolve(sql string) (time.Duration, string) {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return r.defaultTimeout, ""
}
