package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("COPILOT_DATA", "/srv/copilot")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"tilde only", "~", home},
		{"tilde prefix", "~/statements/a.pdf", filepath.Join(home, "statements/a.pdf")},
		{"env var", "$COPILOT_DATA/db.sqlite", "/srv/copilot/db.sqlite"},
		{"plain", "/tmp/x", "/tmp/x"},
		{"tilde in middle untouched", "/a/~/b", "/a/~/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.input))
		})
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "statement-copilot", "tmp")
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWorkspacePaths(t *testing.T) {
	cfg := Config{Workspace: "/ws"}
	assert.Equal(t, "/ws/data/statement-copilot", cfg.DataDir())
	assert.Equal(t, "/ws/data/statement-copilot/tmp", cfg.TmpDir())
	assert.Equal(t, "/ws/data/statement-copilot/financas.sqlite", cfg.DefaultDatabasePath())

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err := UserConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "statement-copilot"), dir)
}
