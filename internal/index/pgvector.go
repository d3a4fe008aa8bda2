package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/startfirst/startfirst/internal/embed"
	"github.com/startfirst/startfirst/internal/store"
)

// DefaultPGTable is the table used when PGConfig.Table is empty.
const DefaultPGTable = "startfirst_chunks"

// PGConfig configures the PostgreSQL + pgvector catalog.
type PGConfig struct {
	DSN   string
	Table string
}

// PGCatalog serves every scope out of one pgvector table.
type PGCatalog struct {
	db       *sql.DB
	table    string
	dims     int
	embedder embed.Embedder
}

// OpenPGCatalog connects to Postgres, enables the vector extension and
// creates the chunk table sized to the embedder's dimensions.
func OpenPGCatalog(ctx context.Context, cfg PGConfig, emb embed.Embedder) (*PGCatalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultPGTable
	}

	dims := emb.Dimensions()
	if dims <= 0 {
		// HTTP embedders learn their size from the first response.
		probe, err := emb.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("probing embedding dimensions: %w", err)
		}
		dims = len(probe)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	c := &PGCatalog{db: db, table: pq.QuoteIdentifier(cfg.Table), dims: dims, embedder: emb}
	if err := c.createTable(ctx, cfg.Table); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *PGCatalog) createTable(ctx context.Context, rawName string) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq          BIGSERIAL PRIMARY KEY,
			id           UUID UNIQUE NOT NULL,
			scope        TEXT NOT NULL,
			source       TEXT NOT NULL DEFAULT '',
			user_id      TEXT NOT NULL DEFAULT '',
			tag          TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL,
			embedding    vector(%d),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, c.table, c.dims),
		fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN embedding DROP NOT NULL`, c.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (scope)`,
			pq.QuoteIdentifier("idx_"+rawName+"_scope"), c.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier("idx_"+rawName+"_embedding"), c.table),
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating pgvector schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (c *PGCatalog) Close() error {
	return c.db.Close()
}

// Global returns the shared reference index.
func (c *PGCatalog) Global() Index {
	return &pgIndex{catalog: c, scope: store.GlobalScope}
}

// User returns the private index of userID.
func (c *PGCatalog) User(userID string) Index {
	return &pgIndex{catalog: c, scope: store.UserScope(userID), userID: userID}
}

type pgIndex struct {
	catalog *PGCatalog
	scope   string
	userID  string
}

func (ix *pgIndex) Insert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := ix.catalog.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(docs), err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, scope, source, user_id, tag, content, chunk_index, content_hash, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, ix.catalog.table)

	for i, d := range docs {
		// Chunks without a vector are kept but never match a search.
		var embedding any
		if len(vectors[i]) > 0 {
			embedding = pgvector.NewVector(vectors[i])
		}
		userID := d.Metadata.UserID
		if ix.userID != "" {
			userID = ix.userID
		}
		_, err := ix.catalog.db.ExecContext(ctx, query,
			uuid.New(),
			ix.scope,
			d.Metadata.Source,
			userID,
			d.Metadata.Tag,
			d.Text,
			i,
			store.HashChunkContent(d.Text, d.Metadata.Source),
			embedding,
		)
		if err != nil {
			return fmt.Errorf("writing chunk %d of %d: %w", i+1, len(docs), err)
		}
	}
	return nil
}

func (ix *pgIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	var exists bool
	err := ix.catalog.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE scope = $1)`, ix.catalog.table),
		ix.scope,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking scope %q: %w", ix.scope, err)
	}
	if !exists {
		return nil, ErrScopeNotFound
	}
	if k <= 0 {
		return nil, nil
	}

	vec, err := ix.catalog.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := ix.catalog.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT content, source, user_id, tag, 1 - (embedding <=> $2) AS similarity
			FROM %s
			WHERE scope = $1 AND embedding IS NOT NULL
			ORDER BY embedding <=> $2, seq
			LIMIT $3`, ix.catalog.table),
		ix.scope, pgvector.NewVector(vec), k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pgvector: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var sim float64
		if err := rows.Scan(&h.Text, &h.Metadata.Source, &h.Metadata.UserID, &h.Metadata.Tag, &sim); err != nil {
			return nil, fmt.Errorf("scanning pgvector row: %w", err)
		}
		h.Score = Score(sim)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
