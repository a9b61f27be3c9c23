// Package storage persists gateway session state in an embedded SQLite
// database so a restarted process can resume its shards instead of
// re-identifying and replaying every guild. It uses modernc.org/sqlite for
// CGO-less builds.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding per-shard resume state.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS gateway_sessions (
            shard_id    INTEGER PRIMARY KEY,
            session_id  TEXT NOT NULL,
            sequence    INTEGER NOT NULL,
            resume_url  TEXT NOT NULL DEFAULT '',
            updated_at  TIMESTAMP NOT NULL
        );`)
	if err != nil {
		return fmt.Errorf("create gateway_sessions: %w", err)
	}
	return nil
}

// SaveSession records a shard's resume state (write-through).
func (s *Store) SaveSession(shardID int, sessionID string, sequence int64, resumeURL string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(
		`INSERT INTO gateway_sessions (shard_id, session_id, sequence, resume_url, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(shard_id) DO UPDATE SET
           session_id=excluded.session_id,
           sequence=excluded.sequence,
           resume_url=excluded.resume_url,
           updated_at=excluded.updated_at`,
		shardID, sessionID, sequence, resumeURL, time.Now().UTC(),
	)
	return err
}

// LoadSession returns a shard's persisted resume state; empty values when the
// shard has none.
func (s *Store) LoadSession(shardID int) (sessionID string, sequence int64, resumeURL string, err error) {
	if s.db == nil {
		return "", 0, "", fmt.Errorf("store not initialized")
	}
	row := s.db.QueryRow(
		`SELECT session_id, sequence, resume_url FROM gateway_sessions WHERE shard_id=?`,
		shardID,
	)
	if err := row.Scan(&sessionID, &sequence, &resumeURL); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, "", nil
		}
		return "", 0, "", err
	}
	return sessionID, sequence, resumeURL, nil
}

// ClearSession drops a shard's resume state after the server invalidates it.
func (s *Store) ClearSession(shardID int) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`DELETE FROM gateway_sessions WHERE shard_id=?`, shardID)
	return err
}

// ClearAllSessions drops every shard's resume state, used when the shard
// count changes and old sessions can no longer be resumed.
func (s *Store) ClearAllSessions() error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`DELETE FROM gateway_sessions`)
	return err
}
