package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Checkpoint errors.
var (
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrCheckpointCorrupted = errors.New("checkpoint integrity check failed")
	ErrCheckpointExists    = errors.New("checkpoint already exists")
	ErrInvalidCheckpointID = errors.New("invalid checkpoint ID: cannot contain path separators")
)

const maxAutoCheckpoints = 5

// CheckpointInfo describes a database snapshot.
type CheckpointInfo struct {
	CreatedAt     time.Time `json:"created_at"`
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	FileSize      int64     `json:"file_size"`
	Statements    int       `json:"statements"`
	Items         int       `json:"items"`
	Sources       int       `json:"sources"`
	SchemaVersion int       `json:"schema_version"`
	IsAuto        bool      `json:"is_auto"`
}

// CheckpointManager snapshots the database next to it under checkpoints/.
type CheckpointManager struct {
	storage        *SQLiteStorage
	checkpointsDir string
}

// NewCheckpointManager creates a checkpoint manager for this storage.
func (s *SQLiteStorage) NewCheckpointManager() (*CheckpointManager, error) {
	dir := filepath.Join(filepath.Dir(s.dbPath), "checkpoints")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &CheckpointManager{storage: s, checkpointsDir: dir}, nil
}

// Dir returns the checkpoints directory.
func (cm *CheckpointManager) Dir() string {
	return cm.checkpointsDir
}

// Create snapshots the database under tag. An empty tag is generated from the clock.
func (cm *CheckpointManager) Create(ctx context.Context, tag, description string) (*CheckpointInfo, error) {
	return cm.create(ctx, tag, description, false)
}

// AutoCheckpoint snapshots the database before an operation named by prefix and
// keeps only the most recent automatic checkpoints.
func (cm *CheckpointManager) AutoCheckpoint(ctx context.Context, prefix string) (*CheckpointInfo, error) {
	tag := fmt.Sprintf("auto-%s-%s", prefix, time.Now().Format("2006-01-02-150405"))
	info, err := cm.create(ctx, tag, "Automatic checkpoint before "+prefix, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto-checkpoint: %w", err)
	}

	if err := cm.cleanupOldAutoCheckpoints(ctx); err != nil {
		cm.storage.logger.Warn("failed to clean up old auto-checkpoints", "error", err)
	}
	return info, nil
}

func (cm *CheckpointManager) create(ctx context.Context, tag, description string, auto bool) (*CheckpointInfo, error) {
	if tag == "" {
		tag = "checkpoint-" + time.Now().Format("2006-01-02-150405")
	}
	if err := validateCheckpointID(tag); err != nil {
		return nil, err
	}

	checkpointPath := cm.dbFile(tag)
	if _, err := os.Stat(checkpointPath); err == nil {
		return nil, ErrCheckpointExists
	}

	info := CheckpointInfo{
		ID:          tag,
		CreatedAt:   time.Now(),
		Description: description,
		IsAuto:      auto,
	}

	var err error
	if info.SchemaVersion, err = cm.storage.SchemaVersion(ctx); err != nil {
		return nil, err
	}
	if info.SchemaVersion > 0 {
		if info.Statements, err = cm.storage.CountStatements(ctx); err != nil {
			return nil, err
		}
		if info.Items, err = cm.storage.CountItems(ctx); err != nil {
			return nil, err
		}
		if info.Sources, err = cm.storage.CountSources(ctx); err != nil {
			return nil, err
		}
	}

	if err := cm.backupDatabase(ctx, checkpointPath); err != nil {
		return nil, fmt.Errorf("failed to backup database: %w", err)
	}

	stat, err := os.Stat(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	info.FileSize = stat.Size()

	if err := writeJSONAtomic(cm.metaFile(tag), info); err != nil {
		_ = os.Remove(checkpointPath)
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	cm.storage.logger.Info("created checkpoint", "id", tag, "size", info.FileSize)
	return &info, nil
}

// List returns all checkpoints, newest first.
func (cm *CheckpointManager) List(_ context.Context) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(cm.checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	checkpoints := make([]CheckpointInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := loadCheckpointInfo(filepath.Join(cm.checkpointsDir, entry.Name()))
		if err != nil {
			cm.storage.logger.Debug("skipping unreadable checkpoint metadata", "file", entry.Name(), "error", err)
			continue
		}
		checkpoints = append(checkpoints, *info)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// Info returns the metadata of one checkpoint.
func (cm *CheckpointManager) Info(_ context.Context, id string) (*CheckpointInfo, error) {
	if err := validateCheckpointID(id); err != nil {
		return nil, err
	}
	info, err := loadCheckpointInfo(cm.metaFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint metadata: %w", err)
	}
	return info, nil
}

// Delete removes a checkpoint and its metadata.
func (cm *CheckpointManager) Delete(_ context.Context, id string) error {
	if err := validateCheckpointID(id); err != nil {
		return err
	}
	if err := os.Remove(cm.dbFile(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrCheckpointNotFound
		}
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}
	if err := os.Remove(cm.metaFile(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint metadata: %w", err)
	}
	return nil
}

// Restore replaces the database with a checkpoint. The storage's connection is
// closed; callers must reopen the database afterwards.
func (cm *CheckpointManager) Restore(_ context.Context, id string) error {
	if err := validateCheckpointID(id); err != nil {
		return err
	}

	checkpointPath := cm.dbFile(id)
	if _, err := os.Stat(checkpointPath); err != nil {
		if os.IsNotExist(err) {
			return ErrCheckpointNotFound
		}
		return fmt.Errorf("failed to access checkpoint: %w", err)
	}
	if err := verifyIntegrity(checkpointPath); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointCorrupted, err)
	}

	if err := cm.storage.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	dbPath := cm.storage.dbPath
	backupPath := dbPath + ".restore-backup"
	if err := copyFile(dbPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup current database: %w", err)
	}

	// Stale WAL frames would be replayed over the restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s file: %w", suffix, err)
		}
	}

	if err := copyFile(checkpointPath, dbPath); err != nil {
		if restoreErr := copyFile(backupPath, dbPath); restoreErr != nil {
			cm.storage.logger.Error("failed to put back database after restore failure", "error", restoreErr)
		}
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}

	if err := os.Remove(backupPath); err != nil {
		cm.storage.logger.Warn("failed to remove restore backup", "error", err)
	}
	return nil
}

func (cm *CheckpointManager) backupDatabase(ctx context.Context, destPath string) error {
	if _, err := cm.storage.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	if strings.ContainsAny(destPath, `'";`) {
		return errors.New("invalid destination path: contains forbidden characters")
	}
	// #nosec G201 - destPath is checked above
	if _, err := cm.storage.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return copyFile(cm.storage.dbPath, destPath)
	}
	return nil
}

func (cm *CheckpointManager) cleanupOldAutoCheckpoints(ctx context.Context) error {
	checkpoints, err := cm.List(ctx)
	if err != nil {
		return err
	}

	autoCount := 0
	for _, cp := range checkpoints {
		if !cp.IsAuto {
			continue
		}
		autoCount++
		if autoCount > maxAutoCheckpoints {
			if err := cm.Delete(ctx, cp.ID); err != nil {
				cm.storage.logger.Debug("failed to delete old auto-checkpoint", "checkpoint", cp.ID, "error", err)
			}
		}
	}
	return nil
}

func (cm *CheckpointManager) dbFile(id string) string {
	return filepath.Join(cm.checkpointsDir, id+".db")
}

func (cm *CheckpointManager) metaFile(id string) string {
	return filepath.Join(cm.checkpointsDir, id+".meta.json")
}

func validateCheckpointID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidCheckpointID
	}
	return nil
}

func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func loadCheckpointInfo(path string) (*CheckpointInfo, error) {
	// #nosec G304 - path comes from the checkpoints directory listing
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info CheckpointInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func copyFile(src, dst string) error {
	// #nosec G304 - paths are derived from the configured database location
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	tmpDst := dst + ".tmp"
	// #nosec G304
	destination, err := os.Create(tmpDst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		_ = destination.Close()
		_ = os.Remove(tmpDst)
		return err
	}
	if err := destination.Close(); err != nil {
		_ = os.Remove(tmpDst)
		return err
	}
	return os.Rename(tmpDst, dst)
}
