package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/agora/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/agora.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.agora.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// _txlock=immediate takes the write lock at BEGIN so concurrent
	// read-then-write transactions wait on busy_timeout instead of failing
	// at lock upgrade.
	dbPath := filepath.Join(baseDir, "agora.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS topics (
		  id                TEXT PRIMARY KEY,
		  title             TEXT NOT NULL,
		  description       TEXT NOT NULL,
		  created_by        TEXT NOT NULL,
		  status            TEXT NOT NULL DEFAULT 'active',
		  participant_count INTEGER NOT NULL DEFAULT 0,
		  round_count       INTEGER NOT NULL DEFAULT 0,
		  current_round     INTEGER NOT NULL DEFAULT 0,
		  max_rounds        INTEGER NOT NULL DEFAULT 3,
		  created_at        INTEGER NOT NULL,
		  CHECK (current_round >= 0 AND current_round <= round_count AND round_count <= max_rounds)
		);

		CREATE TABLE IF NOT EXISTS rounds (
		  id             TEXT PRIMARY KEY,
		  topic_id       TEXT NOT NULL REFERENCES topics(id),
		  round_number   INTEGER NOT NULL,
		  status         TEXT NOT NULL DEFAULT 'active',
		  comment_count  INTEGER NOT NULL DEFAULT 0,
		  max_comments   INTEGER NOT NULL DEFAULT 10,
		  start_time     INTEGER NOT NULL,
		  end_time       INTEGER,
		  summarizing    INTEGER NOT NULL DEFAULT 0,
		  summarizing_at INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_topic_number
		ON rounds(topic_id, round_number);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_one_active
		ON rounds(topic_id)
		WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS comments (
		  id            TEXT PRIMARY KEY,
		  topic_id      TEXT NOT NULL REFERENCES topics(id),
		  round_id      TEXT NOT NULL REFERENCES rounds(id),
		  author_id     TEXT NOT NULL,
		  content       TEXT NOT NULL,
		  position_type TEXT NOT NULL,
		  is_anonymous  INTEGER NOT NULL DEFAULT 0,
		  status        TEXT NOT NULL DEFAULT 'active',
		  created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_comments_round_status
		ON comments(round_id, status);

		CREATE TABLE IF NOT EXISTS topic_participants (
		  topic_id      TEXT NOT NULL REFERENCES topics(id),
		  author_id     TEXT NOT NULL,
		  first_seen_at INTEGER NOT NULL,
		  PRIMARY KEY (topic_id, author_id)
		);

		CREATE TABLE IF NOT EXISTS summaries (
		  id                  TEXT PRIMARY KEY,
		  round_id            TEXT NOT NULL UNIQUE REFERENCES rounds(id),
		  title               TEXT NOT NULL,
		  overview            TEXT NOT NULL DEFAULT '',
		  consensus_json      TEXT NOT NULL,
		  disagreements_json  TEXT NOT NULL,
		  new_questions_json  TEXT NOT NULL,
		  referenced_json     TEXT NOT NULL,
		  sentiment           TEXT NOT NULL,
		  convergence_score   REAL NOT NULL,
		  model_version       TEXT NOT NULL,
		  degraded            INTEGER NOT NULL DEFAULT 0,
		  created_at          INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
