package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	for _, table := range []string{"accounts", "sources", "statements", "statement_items"} {
		var n int
		err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}

	for _, index := range []string{
		"idx_statement_items_statement",
		"idx_statements_source",
		"idx_statement_items_posted_at",
		"idx_statement_items_category",
		"idx_statement_items_fingerprint",
	} {
		var n int
		err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "index %s", index)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestMigrate_NewerDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "future.sqlite")
	store, err := NewSQLiteStorage(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)

	err = store.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestMigrate_FromVersionOne(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "v1.sqlite")
	store, err := NewSQLiteStorage(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	tx, err := store.db.Begin()
	require.NoError(t, err)
	require.NoError(t, migrations[0].Up(tx))
	_, err = tx.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, store.Migrate(context.Background()))

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}
