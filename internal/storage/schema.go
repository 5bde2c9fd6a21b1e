package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add a migration.
const currentSchemaVersion = 2

// initSchema brings the database up to currentSchemaVersion.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the blobs table.
func (s *SQLiteStore) migrateToV1() error {
	s.log.Info("applying migration", "version", 1)

	const blobsTable = `
		CREATE TABLE IF NOT EXISTS blobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data BLOB NOT NULL DEFAULT x'',
			created_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(blobsTable); err != nil {
		return fmt.Errorf("create blobs table: %w", err)
	}
	return s.recordMigration(1)
}

// migrateToV2 adds the plot render log.
func (s *SQLiteStore) migrateToV2() error {
	s.log.Info("applying migration", "version", 2)

	// placeholder is 1 when an empty image was sent because rendering
	// failed or there was nothing to draw.
	const rendersTable = `
		CREATE TABLE IF NOT EXISTS plot_renders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			plot_id TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			width REAL NOT NULL DEFAULT 0,
			height REAL NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			placeholder INTEGER NOT NULL DEFAULT 0,
			rendered_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_renders_rendered_at ON plot_renders(rendered_at);
		CREATE INDEX IF NOT EXISTS idx_renders_device ON plot_renders(device_id);
	`
	if _, err := s.db.Exec(rendersTable); err != nil {
		return fmt.Errorf("create plot_renders table: %w", err)
	}
	return s.recordMigration(2)
}

func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, queryFailed("schema version", err)
	}
	return version, nil
}
