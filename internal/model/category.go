package model

import "strings"

// CategoryOther is the universal fallback category.
const CategoryOther = "other"

// Taxonomy is the closed, ordered set of spend categories.
type Taxonomy struct {
	index map[string]struct{}
	names []string
}

// DefaultCategories lists the built-in spend taxonomy.
var DefaultCategories = []string{
	"groceries",
	"restaurants",
	"delivery",
	"transport",
	"fuel",
	"health",
	"education",
	"shopping",
	"subscriptions",
	"entertainment",
	"travel",
	"bills",
	"fees_taxes",
	"cashback_refund",
	CategoryOther,
}

// NewTaxonomy builds a taxonomy from names. Names are trimmed and lower-cased,
// duplicates are dropped, and "other" is always present.
func NewTaxonomy(names []string) Taxonomy {
	t := Taxonomy{index: make(map[string]struct{}, len(names)+1)}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := t.index[n]; dup {
			continue
		}
		t.index[n] = struct{}{}
		t.names = append(t.names, n)
	}
	if _, ok := t.index[CategoryOther]; !ok {
		t.index[CategoryOther] = struct{}{}
		t.names = append(t.names, CategoryOther)
	}
	return t
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() Taxonomy {
	return NewTaxonomy(DefaultCategories)
}

// Contains reports whether name is a member of the taxonomy.
func (t Taxonomy) Contains(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Coerce returns name if it belongs to the taxonomy and "other" otherwise.
func (t Taxonomy) Coerce(name string) string {
	if t.Contains(name) {
		return name
	}
	return CategoryOther
}

// Names returns the categories in declaration order.
func (t Taxonomy) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of categories.
func (t Taxonomy) Len() int {
	return len(t.names)
}
