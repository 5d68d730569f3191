// Package category suggests a spending category for free text using
// ordered substring rules.
package category

import "strings"

// Rule maps a substring pattern to a category.
type Rule struct {
	ID         string `json:"id"`
	Pattern    string `json:"pattern"`
	CategoryID string `json:"category_id"`
}

// Match returns the category of the first rule, in the given order, whose
// lowercased pattern occurs in the lowercased text. Blank patterns never
// match. It reports false when no rule matches; callers must not assume a
// default category.
func Match(text string, rules []Rule) (string, bool) {
	if rule, ok := First(text, rules); ok {
		return rule.CategoryID, true
	}
	return "", false
}

// First returns the first matching rule itself.
func First(text string, rules []Rule) (Rule, bool) {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			continue
		}
		pattern := strings.ToLower(rule.Pattern)
		if strings.Contains(lower, pattern) {
			return rule, true
		}
	}
	return Rule{}, false
}
