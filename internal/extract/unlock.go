package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/config"
)

// Unlock errors.
var (
	ErrPasswordRequired = errors.New("PDF is password-protected: re-run with --password or set STATEMENT_PDF_PASSWORD")
	ErrBadPassword      = errors.New("invalid PDF password")
)

// qpdf exit codes.
const (
	qpdfOK           = 0
	qpdfError        = 2
	qpdfWarnings     = 3
	qpdfNotEncrypted = 2
)

// UnlockResult describes the readable copy of a statement PDF.
type UnlockResult struct {
	// Path is the original file when it is not encrypted, else the unlocked copy.
	Path      string
	Hash      string
	Encrypted bool
}

// Unlocker decrypts password-protected PDFs into a per-hash cache directory.
type Unlocker struct {
	runner   Runner
	logger   *slog.Logger
	qpdfPath string
	tmpDir   string
}

// NewUnlocker creates an unlocker writing unlocked copies under tmpDir.
func NewUnlocker(qpdfPath, tmpDir string, runner Runner, logger *slog.Logger) *Unlocker {
	if qpdfPath == "" {
		qpdfPath = "qpdf"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Unlocker{
		runner:   runner,
		logger:   common.LoggerOrDefault(logger),
		qpdfPath: qpdfPath,
		tmpDir:   tmpDir,
	}
}

// Unlock returns a readable path for pdfPath. Unlocked copies are reused
// across runs because they are keyed by the source file's hash.
func (u *Unlocker) Unlock(ctx context.Context, pdfPath, password string) (UnlockResult, error) {
	hash, err := HashFile(pdfPath)
	if err != nil {
		return UnlockResult{}, err
	}
	result := UnlockResult{Path: pdfPath, Hash: hash}

	check, err := u.runner.Run(ctx, u.qpdfPath, "--is-encrypted", pdfPath)
	if err != nil {
		return result, err
	}
	switch check.ExitCode {
	case qpdfOK:
	case qpdfNotEncrypted:
		return result, nil
	default:
		return result, fmt.Errorf("qpdf could not open %s: %s", pdfPath, stderrText(check))
	}

	result.Encrypted = true
	if password == "" {
		return result, ErrPasswordRequired
	}

	// A cached copy is only handed out to a caller who knows the password.
	out := UnlockedPath(u.tmpDir, hash)
	if _, err := os.Stat(out); err == nil {
		check, err := u.runner.Run(ctx, u.qpdfPath, "--password="+password, "--check", pdfPath)
		if err != nil {
			return result, err
		}
		if err := decryptFailure(check); err != nil {
			return result, err
		}
		u.logger.Debug("reusing unlocked copy", "path", out)
		result.Path = out
		return result, nil
	}

	if err := config.EnsureDir(u.tmpDir); err != nil {
		return result, err
	}

	// The final name only ever holds a complete copy.
	partial := out + ".partial"
	dec, err := u.runner.Run(ctx, u.qpdfPath, "--password="+password, "--decrypt", pdfPath, partial)
	if err != nil {
		_ = os.Remove(partial)
		return result, err
	}
	if err := decryptFailure(dec); err != nil {
		_ = os.Remove(partial)
		return result, err
	}

	if err := os.Rename(partial, out); err != nil {
		return result, fmt.Errorf("failed to store unlocked copy: %w", err)
	}

	u.logger.Info("unlocked PDF", "hash", hash[:12], "path", out)
	result.Path = out
	return result, nil
}

// decryptFailure maps a qpdf run made with --password to an error.
func decryptFailure(r CommandResult) error {
	switch r.ExitCode {
	case qpdfOK, qpdfWarnings:
		return nil
	case qpdfError:
		if strings.Contains(strings.ToLower(string(r.Stderr)), "invalid password") {
			return ErrBadPassword
		}
	}
	return fmt.Errorf("failed to decrypt PDF: %s", stderrText(r))
}

// UnlockedPath is where the unlocked copy of the file with the given hash lives.
func UnlockedPath(tmpDir, hash string) string {
	return filepath.Join(tmpDir, hash+".unlocked.pdf")
}

// HashFile returns the hex SHA-256 of the file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", common.ErrFileNotFound, path)
		}
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func stderrText(r CommandResult) string {
	msg := strings.TrimSpace(string(r.Stderr))
	if msg == "" {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return msg
}
