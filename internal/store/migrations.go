package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// meta exists from here on.
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	if err := s.migrateChunkTagIndex(); err != nil {
		return fmt.Errorf("migrating chunk tag index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// seq keeps insertion order for stable tie-breaking in search.
		`CREATE TABLE IF NOT EXISTS chunks (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT UNIQUE NOT NULL,
			scope        TEXT NOT NULL,
			source       TEXT NOT NULL DEFAULT '',
			user_id      TEXT NOT NULL DEFAULT '',
			tag          TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(scope)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(content_hash)`,

		`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id   TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			vector     BLOB NOT NULL,
			dimensions INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// migrateChunkTagIndex adds the (scope, tag) index used when listing notes by tag.
func (s *SQLiteStore) migrateChunkTagIndex() error {
	done, err := s.isMetaFlagEnabled("chunk_tag_index_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_scope_tag ON chunks(scope, tag)`); err != nil {
		return err
	}
	return s.setMetaFlag("chunk_tag_index_v1")
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	return value, err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version":       "1",
		"embedding_dimensions": fmt.Sprintf("%d", s.embDims),
		"created_at":           time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
