package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					issuer TEXT NOT NULL,
					label TEXT,
					home_currency TEXT NOT NULL DEFAULT 'BRL',
					created_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS sources (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					source_type TEXT NOT NULL,
					file_path TEXT,
					content_hash TEXT NOT NULL,
					imported_at DATETIME NOT NULL,
					metadata_json TEXT,
					UNIQUE (account_id, content_hash)
				)`,

				`CREATE TABLE IF NOT EXISTS statements (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					period_start TEXT NOT NULL,
					period_end TEXT NOT NULL,
					due_date TEXT,
					total_minor INTEGER NOT NULL,
					currency TEXT NOT NULL,
					source_id TEXT REFERENCES sources(id),
					created_at DATETIME NOT NULL,
					UNIQUE (account_id, period_start, period_end)
				)`,

				`CREATE TABLE IF NOT EXISTS statement_items (
					id TEXT PRIMARY KEY,
					statement_id TEXT NOT NULL REFERENCES statements(id) ON DELETE CASCADE,
					posted_at TEXT,
					description_raw TEXT NOT NULL,
					merchant_norm TEXT,
					amount_minor INTEGER NOT NULL,
					currency TEXT NOT NULL,
					direction TEXT NOT NULL CHECK (direction IN ('inflow', 'outflow')),
					kind TEXT NOT NULL CHECK (kind IN ('purchase', 'refund', 'fee', 'interest', 'adjustment', 'payment')),
					item_type TEXT NOT NULL CHECK (item_type IN ('transaction', 'statement_flow')),
					installment_n INTEGER,
					installment_total INTEGER,
					category TEXT,
					orig_amount_minor INTEGER,
					orig_currency TEXT,
					fx_rate TEXT,
					fingerprint TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_statement_items_statement ON statement_items(statement_id)`,
				`CREATE INDEX idx_statements_source ON statements(source_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add reporting indexes",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_statement_items_posted_at ON statement_items(posted_at)`,
				`CREATE INDEX IF NOT EXISTS idx_statement_items_category ON statement_items(category)`,
				`CREATE INDEX IF NOT EXISTS idx_statement_items_fingerprint ON statement_items(statement_id, fingerprint)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// SchemaVersion returns the current PRAGMA user_version of the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if currentVersion > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, ExpectedSchemaVersion)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		s.logger.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
