package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/plannel/internal/category"
)

// ruleImportSchema describes the document accepted by ImportRules: a list
// of pattern/category pairs, applied in order.
const ruleImportSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "minLength": 1, "pattern": "\\S"},
			"category_id": {"type": "string", "minLength": 1}
		},
		"required": ["pattern", "category_id"],
		"additionalProperties": false
	}
}`

var compiledRuleImportSchema = mustCompileSchema("rules.json", ruleImportSchema)

func mustCompileSchema(name, doc string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile(name)
}

// ListRules returns the rules in the order they are applied
func (s *Service) ListRules() ([]category.Rule, error) {
	rules, err := s.db.ListRules()
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return rules, nil
}

// AddRule appends a rule. The pattern is trimmed and must not be empty; the
// category must exist.
func (s *Service) AddRule(pattern, categoryID string) (*category.Rule, error) {
	rule, err := s.newRule(pattern, categoryID)
	if err != nil {
		return nil, err
	}
	if err := s.db.AddRule(rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	return &rule, nil
}

func (s *Service) newRule(pattern, categoryID string) (category.Rule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return category.Rule{}, fmt.Errorf("%w: pattern is required", ErrInvalidInput)
	}
	if _, err := s.db.GetCategory(categoryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return category.Rule{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, categoryID)
		}
		return category.Rule{}, fmt.Errorf("getting category: %w", err)
	}
	return category.Rule{
		ID:         s.idGenerator.Generate(),
		Pattern:    pattern,
		CategoryID: categoryID,
	}, nil
}

// DeleteRule removes a rule
func (s *Service) DeleteRule(id string) error {
	if err := s.db.DeleteRule(id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return nil
}

// ImportRules appends every rule of a JSON document after the existing
// ones. The whole document is validated first; nothing is stored when any
// entry is invalid.
func (s *Service) ImportRules(data []byte) ([]category.Rule, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: rules document is not JSON: %w", ErrInvalidInput, err)
	}
	if err := compiledRuleImportSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: rules document does not match schema: %w", ErrInvalidInput, err)
	}

	var entries []struct {
		Pattern    string `json:"pattern"`
		CategoryID string `json:"category_id"`
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decoding rules: %w", ErrInvalidInput, err)
	}

	rules := make([]category.Rule, 0, len(entries))
	for i, e := range entries {
		rule, err := s.newRule(e.Pattern, e.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	for _, rule := range rules {
		if err := s.db.AddRule(rule); err != nil {
			return nil, fmt.Errorf("saving rule: %w", err)
		}
	}
	return rules, nil
}

// rulesFor returns the rules whose category has the given kind, keeping
// their order. An empty kind keeps every rule.
func (s *Service) rulesFor(kind Kind) ([]category.Rule, error) {
	rules, err := s.db.ListRules()
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	if kind == "" {
		return rules, nil
	}

	categories, err := s.db.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	kinds := make(map[string]Kind, len(categories))
	for _, c := range categories {
		kinds[c.ID] = c.Kind
	}

	filtered := make([]category.Rule, 0, len(rules))
	for _, r := range rules {
		if kinds[r.CategoryID] == kind {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// SuggestCategory returns the category of the first rule matching text, or
// an empty string when none does.
func (s *Service) SuggestCategory(text string, kind Kind) (string, error) {
	rule, ok, err := s.MatchRule(text, kind)
	if err != nil || !ok {
		return "", err
	}
	return rule.CategoryID, nil
}

// MatchRule returns the first rule matching text among the rules for kind.
func (s *Service) MatchRule(text string, kind Kind) (category.Rule, bool, error) {
	rules, err := s.rulesFor(kind)
	if err != nil {
		return category.Rule{}, false, err
	}
	rule, ok := category.First(text, rules)
	return rule, ok, nil
}
