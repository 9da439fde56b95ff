// Package config loads the application configuration and resolves paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "statement-copilot"

// ExpandPath expands a leading ~ and $VAR references in a file path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

// EnsureDir creates dir and its parents with owner-only permissions, since
// it holds decrypted statements.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// UserConfigDir is the per-user directory searched for config.yaml.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// DataDir is where stage artifacts and the default database live.
func (c Config) DataDir() string {
	return filepath.Join(c.Workspace, "data", appDirName)
}

// TmpDir holds readable copies of unlocked PDFs.
func (c Config) TmpDir() string {
	return filepath.Join(c.DataDir(), "tmp")
}

// DefaultDatabasePath is used when database.path is unset.
func (c Config) DefaultDatabasePath() string {
	return filepath.Join(c.DataDir(), "financas.sqlite")
}
