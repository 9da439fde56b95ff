package categorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/model"
	"gopkg.in/yaml.v3"
)

// PrefixRule maps merchant-name prefixes to a category.
type PrefixRule struct {
	Category string   `yaml:"category"`
	Prefixes []string `yaml:"prefixes"`
}

// RulesFile is the on-disk form of extra heuristic rules.
type RulesFile struct {
	Rules []PrefixRule `yaml:"rules"`
}

// DefaultPrefixRules returns the built-in merchant prefixes.
func DefaultPrefixRules() []PrefixRule {
	return []PrefixRule{
		{Category: "shopping", Prefixes: []string{"AMAZON", "SHOPEE", "MERCADOLIVRE", "AMERICANAS", "MAGALU", "KABUM", "ALIEXPRESS"}},
		{Category: "delivery", Prefixes: []string{"IFOOD", "IFD*", "IFD ", "RAPPI"}},
		{Category: "transport", Prefixes: []string{"UBER", "99", "ALLPARK"}},
		{Category: "fuel", Prefixes: []string{"POSTO"}},
		{Category: "restaurants", Prefixes: []string{"RESTAURANTE", "CHURRASC"}},
		{Category: "entertainment", Prefixes: []string{"CINEMARK", "SPOTIFY"}},
		{Category: "subscriptions", Prefixes: []string{"NETFLIX", "DISNEY", "PRIMEVIDEO"}},
		{Category: "health", Prefixes: []string{"DROGASIL", "DROGARIA"}},
	}
}

// LoadRules reads extra prefix rules from a YAML file.
func LoadRules(path string) ([]PrefixRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return f.Rules, nil
}

// Heuristics matches the trimmed, upper-cased description against known
// merchant prefixes. Rules are checked in order; the first hit wins.
type Heuristics struct {
	rules []PrefixRule
}

// NewHeuristics builds a matcher from rules. Every rule category must belong
// to the taxonomy, and prefixes are stored upper-cased.
func NewHeuristics(taxonomy model.Taxonomy, rules []PrefixRule) (*Heuristics, error) {
	h := &Heuristics{rules: make([]PrefixRule, 0, len(rules))}
	for i, r := range rules {
		if !taxonomy.Contains(r.Category) {
			return nil, fmt.Errorf("rule %d: category %q is not in the taxonomy", i, r.Category)
		}
		norm := PrefixRule{Category: r.Category}
		for _, p := range r.Prefixes {
			p = strings.ToUpper(strings.TrimLeft(p, " \t"))
			if p == "" {
				return nil, fmt.Errorf("rule %d: empty prefix", i)
			}
			norm.Prefixes = append(norm.Prefixes, p)
		}
		h.rules = append(h.rules, norm)
	}
	return h, nil
}

// NewDefaultHeuristics builds a matcher with extra rules checked before the built-ins.
func NewDefaultHeuristics(taxonomy model.Taxonomy, extra []PrefixRule) (*Heuristics, error) {
	rules := make([]PrefixRule, 0, len(extra)+8)
	rules = append(rules, extra...)
	for _, r := range DefaultPrefixRules() {
		// A custom taxonomy may not carry every built-in category.
		if taxonomy.Contains(r.Category) {
			rules = append(rules, r)
		}
	}
	return NewHeuristics(taxonomy, rules)
}

// Match returns the category for desc, if any rule applies.
func (h *Heuristics) Match(desc string) (string, bool) {
	d := strings.ToUpper(strings.TrimSpace(desc))
	if d == "" {
		return "", false
	}
	for _, r := range h.rules {
		for _, p := range r.Prefixes {
			if strings.HasPrefix(d, p) {
				return r.Category, true
			}
		}
	}
	return "", false
}

// Len returns the number of rules.
func (h *Heuristics) Len() int {
	return len(h.rules)
}
