package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	ws := t.TempDir()
	v := newViper()
	v.Set("workspace", ws)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, "data", "statement-copilot"), cfg.DataDir())
	assert.Equal(t, filepath.Join(ws, "data", "statement-copilot", "financas.sqlite"), cfg.Database.Path)
	assert.Equal(t, 30, cfg.Categorize.BatchSize)
	assert.Equal(t, 1, cfg.Categorize.Concurrency)
	assert.Equal(t, 3, cfg.Pipeline.MaxPages)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.Timeout)
	assert.Equal(t, "qpdf", cfg.Extract.QPDFPath)
	assert.Equal(t, model.DefaultTaxonomy().Names(), cfg.Taxonomy().Names())
}

func TestLoadCustomTaxonomyKeepsOther(t *testing.T) {
	v := newViper()
	v.Set("workspace", t.TempDir())
	v.Set("categorize.taxonomy", []string{"Groceries", "travel"})

	cfg, err := Load(v)
	require.NoError(t, err)

	tax := cfg.Taxonomy()
	assert.Equal(t, []string{"groceries", "travel", "other"}, tax.Names())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"zero batch size", "categorize.batch_size", 0},
		{"negative concurrency", "categorize.concurrency", -1},
		{"zero timeout", "pipeline.timeout", "0s"},
		{"negative pages", "pipeline.max_pages", -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("workspace", t.TempDir())
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestLoadAPIKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	v := newViper()
	v.Set("workspace", t.TempDir())
	v.Set("llm.openai_api_key", "from-config")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.AnthropicAPIKey)
	assert.Equal(t, "from-config", cfg.LLM.OpenAIAPIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COPILOT_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("COPILOT_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("COPILOT_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
