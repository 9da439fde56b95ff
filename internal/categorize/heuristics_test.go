package categorize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeuristics(t *testing.T) {
	h, err := NewDefaultHeuristics(model.DefaultTaxonomy(), nil)
	require.NoError(t, err)

	tests := []struct {
		desc   string
		want   string
		wantOK bool
	}{
		{"NETFLIX.COM", "subscriptions", true},
		{"  netflix.com", "subscriptions", true},
		{"IFD*BURGER KING", "delivery", true},
		{"IFD PIZZARIA", "delivery", true},
		{"IFDX", "", false},
		{"99APP *99POP", "transport", true},
		{"POSTO IPIRANGA", "fuel", true},
		{"CHURRASCARIA GAUCHA", "restaurants", true},
		{"AMAZON MKTPLACE", "shopping", true},
		{"DROGARIA SAO PAULO", "health", true},
		{"SPOTIFY", "entertainment", true},
		{"PAGAMENTO EFETUADO", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, ok := h.Match(tt.desc)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtraRulesWinOverBuiltins(t *testing.T) {
	extra := []PrefixRule{{Category: "travel", Prefixes: []string{"uber trip"}}}
	h, err := NewDefaultHeuristics(model.DefaultTaxonomy(), extra)
	require.NoError(t, err)

	got, ok := h.Match("UBER TRIP SAO PAULO")
	require.True(t, ok)
	assert.Equal(t, "travel", got)

	got, ok = h.Match("UBER EATS")
	require.True(t, ok)
	assert.Equal(t, "transport", got)
}

func TestNewHeuristicsRejectsBadRules(t *testing.T) {
	_, err := NewHeuristics(model.DefaultTaxonomy(), []PrefixRule{{Category: "pets", Prefixes: []string{"PETZ"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the taxonomy")

	_, err = NewHeuristics(model.DefaultTaxonomy(), []PrefixRule{{Category: "fuel", Prefixes: []string{"  "}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty prefix")
}

func TestCustomTaxonomySkipsMissingBuiltins(t *testing.T) {
	tax := model.NewTaxonomy([]string{"fuel"})
	h, err := NewDefaultHeuristics(tax, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())

	_, ok := h.Match("NETFLIX")
	assert.False(t, ok)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - category: groceries
    prefixes: ["CARREFOUR", "PAO DE ACUCAR"]
  - category: pets
    prefixes: [PETZ]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "groceries", rules[0].Category)
	assert.Equal(t, []string{"CARREFOUR", "PAO DE ACUCAR"}, rules[0].Prefixes)

	tax := model.NewTaxonomy(append(model.DefaultCategories, "pets"))
	h, err := NewDefaultHeuristics(tax, rules)
	require.NoError(t, err)
	got, ok := h.Match("petz vila mariana")
	require.True(t, ok)
	assert.Equal(t, "pets", got)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules: [:"), 0o600))
	_, err = LoadRules(bad)
	assert.Error(t, err)
}
