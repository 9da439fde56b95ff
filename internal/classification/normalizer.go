// Package classification separates transactions from statement flows and repairs
// kind and direction using keyword signals in the bank's own descriptions.
package classification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/model"
)

// Family groups keywords that carry the same signal.
type Family string

const (
	// FamilyPayment marks payments and transfers toward the balance.
	FamilyPayment Family = "payment"
	// FamilyInterest marks interest charges.
	FamilyInterest Family = "interest"
	// FamilyFee marks fees, taxes and fines.
	FamilyFee Family = "fee"
	// FamilyBalance marks carried or overdue balances.
	FamilyBalance Family = "balance"
)

// Effect rewrites an item in place. It only ever receives a copy.
type Effect func(item *model.StatementItem)

// Rule is a tagged (pattern, effect) pair.
type Rule struct {
	Apply    Effect
	Name     string
	Family   Family
	Regex    string
	Priority int // Higher priority rules are checked first
}

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// Normalizer applies rules in priority order. The first matching rule wins.
// It is safe for concurrent use once built.
type Normalizer struct {
	rules []compiledRule
}

// NewNormalizer compiles rules. Patterns are case-insensitive.
func NewNormalizer(rules []Rule) (*Normalizer, error) {
	compiled := make([]compiledRule, 0, len(rules))

	for _, r := range rules {
		if r.Apply == nil {
			return nil, fmt.Errorf("rule %s has no effect", r.Name)
		}
		regexStr := r.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}

		re, err := regexp.Compile(regexStr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.Name, err)
		}

		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return &Normalizer{rules: compiled}, nil
}

// NewDefaultNormalizer builds a normalizer over DefaultRules.
func NewDefaultNormalizer() *Normalizer {
	n, err := NewNormalizer(DefaultRules())
	if err != nil {
		panic(err)
	}
	return n
}

// Signals reports which keyword families occur in desc.
func (n *Normalizer) Signals(desc string) []Family {
	var out []Family
	for _, r := range n.rules {
		if r.re.MatchString(desc) {
			out = append(out, r.Family)
		}
	}
	return out
}

// DecideItemType returns statement_flow when any keyword family matches or
// kind is already a non-spend kind, and transaction otherwise.
func (n *Normalizer) DecideItemType(desc string, kind model.Kind) model.ItemType {
	if len(n.Signals(desc)) > 0 || kind.IsFlowKind() {
		return model.ItemTypeStatementFlow
	}
	return model.ItemTypeTransaction
}

// Match returns the rule that would fire for desc.
func (n *Normalizer) Match(desc string) (Rule, bool) {
	for _, r := range n.rules {
		if r.re.MatchString(desc) {
			return r.Rule, true
		}
	}
	return Rule{}, false
}

// Normalize returns a copy of item with item_type, kind and direction decided.
// It never fails.
func (n *Normalizer) Normalize(item model.StatementItem) model.StatementItem {
	out := item
	out.ItemType = n.DecideItemType(out.DescriptionRaw, out.Kind)

	if r, ok := n.Match(out.DescriptionRaw); ok {
		r.Apply(&out)
	}

	if !out.Direction.Valid() {
		out.Direction = model.DirectionOutflow
	}
	if !out.Kind.Valid() {
		if out.ItemType == model.ItemTypeTransaction {
			out.Kind = model.KindPurchase
		} else {
			out.Kind = model.KindAdjustment
		}
	}
	if out.Kind.IsFlowKind() {
		out.ItemType = model.ItemTypeStatementFlow
	}

	return out
}

// NormalizeAll returns a new document with every item normalized.
func (n *Normalizer) NormalizeAll(doc model.StatementDocument) model.StatementDocument {
	out := doc.Clone()
	for i := range out.Items {
		out.Items[i] = n.Normalize(out.Items[i])
	}
	return out
}
