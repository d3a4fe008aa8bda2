// Package store provides the SQLite storage layer for startfirst.
//
// Everything lives in a single SQLite database file:
//   - Text chunks with provenance (source, owner scope, tag)
//   - Embedding vectors for similarity search
//   - Per-user profile documents (preferences, history, adaptive weights)
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.startfirst/startfirst.db"

// DefaultEmbeddingDimensions is the default embedding vector size (MiniLM).
const DefaultEmbeddingDimensions = 384

// GlobalScope owns the shared reference corpus.
const GlobalScope = "global"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// UserScope returns the owner scope for a user's private notes.
func UserScope(userID string) string {
	return "user:" + userID
}

// Chunk is one write-once slice of an ingested document.
type Chunk struct {
	ID          string
	Scope       string // GlobalScope or UserScope(id)
	Source      string
	UserID      string // empty for global chunks
	Tag         string
	Content     string
	ChunkIndex  int
	ContentHash string
	CreatedAt   time.Time
}

// ScoredChunk is a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	GlobalChunks   int64 `json:"global_chunks"`
	UserChunks     int64 `json:"user_chunks"`
	Users          int64 `json:"users"`
	EmbeddingCount int64 `json:"embeddings"`
	ProfileCount   int64 `json:"profiles"`
	DBSizeBytes    int64 `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath              string
	EmbeddingDimensions int
}

// Store defines the storage interface.
type Store interface {
	// Chunks
	AddChunk(ctx context.Context, c *Chunk, vector []float32) error
	ScopeExists(ctx context.Context, scope string) (bool, error)
	SearchChunks(ctx context.Context, scope string, query []float32, limit int) ([]*ScoredChunk, error)
	ListChunks(ctx context.Context, scope string, limit int) ([]*Chunk, error)

	// Profiles
	GetProfile(ctx context.Context, userID string) ([]byte, error)
	PutProfile(ctx context.Context, userID string, data []byte) error

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	embDims int
}

// NewStore opens (creating if needed) a SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every new connection to ":memory:" is a fresh, empty database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:      db,
		dbPath:  cfg.DBPath,
		embDims: cfg.EmbeddingDimensions,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns row counts and the on-disk size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM chunks WHERE scope = 'global'", &stats.GlobalChunks},
		{"SELECT COUNT(*) FROM chunks WHERE scope != 'global'", &stats.UserChunks},
		{"SELECT COUNT(DISTINCT user_id) FROM chunks WHERE scope != 'global'", &stats.Users},
		{"SELECT COUNT(*) FROM embeddings", &stats.EmbeddingCount},
		{"SELECT COUNT(*) FROM profiles", &stats.ProfileCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	// Only meaningful for file-based databases.
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
