package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// migrate creates missing tables and records the schema version.
func (db *DB) migrate() error {
	ctx := context.Background()
	version, err := db.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == currentSchemaVersion {
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createUsageLogTable(tx); err != nil {
			return err
		}
		if err := createResponseCacheTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized",
			"version", currentSchemaVersion,
			"from", version,
		)
		return nil
	})
}

// schemaVersion returns 0 for a fresh database.
func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var name string
	err := db.conn.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createUsageLogTable creates usage_log: one row per dispatched operation.
func createUsageLogTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS usage_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool TEXT NOT NULL,
			params_json TEXT NOT NULL DEFAULT '{}',
			client_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create usage_log table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_usage_log_at ON usage_log(at)",
		"CREATE INDEX IF NOT EXISTS idx_usage_log_tool ON usage_log(tool, at)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// createResponseCacheTable creates response_cache. Times are unix milliseconds.
func createResponseCacheTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS response_cache (
			key TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			value_json BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create response_cache table: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}
