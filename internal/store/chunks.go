package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AddChunk inserts c and its embedding in one transaction. An empty ID is
// replaced with a fresh UUID. Identical content is inserted again on every
// call; chunks are never de-duplicated.
func (s *SQLiteStore) AddChunk(ctx context.Context, c *Chunk, vector []float32) error {
	if c.Scope == "" {
		return fmt.Errorf("chunk scope is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ContentHash == "" {
		c.ContentHash = HashChunkContent(c.Content, c.Source)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chunks (id, scope, source, user_id, tag, content, chunk_index, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Scope, c.Source, c.UserID, c.Tag, c.Content, c.ChunkIndex, c.ContentHash, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting chunk: %w", err)
	}

	if len(vector) > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO embeddings (chunk_id, vector, dimensions) VALUES (?, ?, ?)`,
			c.ID, float32ToBytes(vector), len(vector),
		)
		if err != nil {
			return fmt.Errorf("storing embedding for chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk %s: %w", c.ID, err)
	}
	return nil
}

// ScopeExists reports whether any chunk has ever been written to scope.
func (s *SQLiteStore) ScopeExists(ctx context.Context, scope string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chunks WHERE scope = ?)`, scope,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking scope %q: %w", scope, err)
	}
	return n == 1, nil
}

// SearchChunks performs brute-force cosine similarity search over the
// chunks of one scope. Equal similarities keep insertion order.
func (s *SQLiteStore) SearchChunks(ctx context.Context, scope string, query []float32, limit int) ([]*ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.scope, c.source, c.user_id, c.tag, c.content, c.chunk_index,
		        c.content_hash, c.created_at, e.vector
		 FROM chunks c
		 JOIN embeddings e ON e.chunk_id = c.id
		 WHERE c.scope = ?
		 ORDER BY c.seq`, scope)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []*ScoredChunk
	for rows.Next() {
		var blob []byte
		sc := &ScoredChunk{}
		c := &sc.Chunk
		if err := rows.Scan(&c.ID, &c.Scope, &c.Source, &c.UserID, &c.Tag, &c.Content,
			&c.ChunkIndex, &c.ContentHash, &c.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		sc.Similarity = cosineSimilarity(query, bytesToFloat32(blob))
		candidates = append(candidates, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ListChunks returns up to limit chunks of scope in insertion order.
func (s *SQLiteStore) ListChunks(ctx context.Context, scope string, limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, source, user_id, tag, content, chunk_index, content_hash, created_at
		 FROM chunks WHERE scope = ? ORDER BY seq LIMIT ?`, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(&c.ID, &c.Scope, &c.Source, &c.UserID, &c.Tag, &c.Content,
			&c.ChunkIndex, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
