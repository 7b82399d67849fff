// Package mask redacts sensitive substrings from query results before they
// leave the server. Rules are regex replacements, optionally scoped to
// specific column names.
package mask

import (
	"fmt"
	"regexp"
)

// Rule describes one redaction. When Columns is empty the rule applies to
// every column.
type Rule struct {
	Pattern     string
	Replacement string
	Columns     []string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	columns     map[string]struct{}
}

func (r compiledRule) appliesTo(column string) bool {
	if len(r.columns) == 0 {
		return true
	}
	_, ok := r.columns[column]
	return ok
}

// Masker applies redaction rules to result row field values.
type Masker struct {
	rules []compiledRule
}

// NewMasker compiles the rule set. Returns an error on invalid regex
// patterns so a bad config fails at startup, not mid-query.
func NewMasker(rules []Rule) (*Masker, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("mask: invalid regex pattern %q: %v", r.Pattern, err)
		}
		cr := compiledRule{pattern: re, replacement: r.Replacement}
		if len(r.Columns) > 0 {
			cr.columns = make(map[string]struct{}, len(r.Columns))
			for _, c := range r.Columns {
				cr.columns[c] = struct{}{}
			}
		}
		compiled[i] = cr
	}
	return &Masker{rules: compiled}, nil
}

// HasRules returns true if any rule is configured.
func (m *Masker) HasRules() bool {
	return len(m.rules) > 0
}

// MaskRows redacts each field value in place and returns the rows. For
// JSONB and array fields it recurses into nested values; column scoping is
// decided by the top-level column name.
func (m *Masker) MaskRows(rows []map[string]any) []map[string]any {
	for _, row := range rows {
		for column, v := range row {
			row[column] = m.maskValue(column, v)
		}
	}
	return rows
}

func (m *Masker) maskValue(column string, v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range m.rules {
			if rule.appliesTo(column) {
				result = rule.pattern.ReplaceAllString(result, rule.replacement)
			}
		}
		return result
	case map[string]any:
		for k, nested := range val {
			val[k] = m.maskValue(column, nested)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = m.maskValue(column, item)
		}
		return val
	default:
		// Numeric, bool, nil and json.Number pass through untouched.
		// json.Number has a string underlying type but does not match
		// `case string:` in a type switch.
		return v
	}
}
