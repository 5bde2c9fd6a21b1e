// Package storage persists host state in SQLite: the blob service the IDE
// uses for large transfers, and a log of rendered plots.
package storage

import (
	"database/sql"
	"log/slog"
	"strings"
	"sync"

	// Pure-Go SQLite driver, registered for side effects.
	_ "modernc.org/sqlite"

	apperrors "github.com/statshost/host/internal/errors"
)

// SQLiteStore implements blob and render-log storage on SQLite. It creates
// the database and tables on first use and is safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB      // Database connection handle.
	mu  sync.RWMutex // Guards all database operations.
	log *slog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at path and applies any
// pending migrations. Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")
	logger.Info("opening database", "path", path)

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	// Each connection to ":memory:" would see its own empty database.
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db, log: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	logger.Info("database ready", "schema_version", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.log.Info("closing database")
	return s.db.Close()
}

func queryFailed(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageQueryFailed, op, err)
}
