package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/schema"
)

// Artifacts names the per-stage files of one input, keyed by its content hash.
type Artifacts struct {
	Dir  string
	Hash string
}

// Text is the extracted statement text.
func (a Artifacts) Text() string { return a.path(".txt") }

// Parsed is the document as returned by the parser.
func (a Artifacts) Parsed() string { return a.path(".parsed.json") }

// Normalized is the document after item normalization.
func (a Artifacts) Normalized() string { return a.path(".normalized.json") }

// Categorized is the document after categorization.
func (a Artifacts) Categorized() string { return a.path(".categorized.json") }

func (a Artifacts) path(suffix string) string {
	return filepath.Join(a.Dir, a.Hash+suffix)
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// WriteDocument writes doc to path in its wire envelope, replacing any
// previous file atomically.
func WriteDocument(path string, doc model.StatementDocument) error {
	data, err := json.MarshalIndent(model.Envelope{Statement: doc}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return writeArtifact(path, append(data, '\n'))
}

// ReadDocument decodes and validates the document at path.
func ReadDocument(path string, v *schema.Validator) (*model.StatementDocument, schema.Result, error) {
	data, err := readArtifact(path)
	if err != nil {
		return nil, schema.Result{}, err
	}
	return v.Decode(data)
}

func readArtifact(path string) ([]byte, error) {
	// #nosec G304 - artifact paths are derived from the data directory and a hash
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
