package index

import (
	"context"
	"fmt"

	"github.com/startfirst/startfirst/internal/embed"
	"github.com/startfirst/startfirst/internal/store"
)

// SQLiteCatalog serves every scope out of one SQLite store.
type SQLiteCatalog struct {
	store    store.Store
	embedder embed.Embedder
}

// NewSQLiteCatalog builds a catalog over st, embedding text with emb.
func NewSQLiteCatalog(st store.Store, emb embed.Embedder) *SQLiteCatalog {
	return &SQLiteCatalog{store: st, embedder: emb}
}

// Global returns the shared reference index.
func (c *SQLiteCatalog) Global() Index {
	return &sqliteIndex{catalog: c, scope: store.GlobalScope}
}

// User returns the private index of userID.
func (c *SQLiteCatalog) User(userID string) Index {
	return &sqliteIndex{catalog: c, scope: store.UserScope(userID), userID: userID}
}

type sqliteIndex struct {
	catalog *SQLiteCatalog
	scope   string
	userID  string
}

func (ix *sqliteIndex) Insert(ctx context.Context, docs []Document) error {
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

	for i, d := range docs {
		userID := d.Metadata.UserID
		if ix.userID != "" {
			userID = ix.userID
		}
		c := &store.Chunk{
			Scope:      ix.scope,
			Source:     d.Metadata.Source,
			UserID:     userID,
			Tag:        d.Metadata.Tag,
			Content:    d.Text,
			ChunkIndex: i,
		}
		if err := ix.catalog.store.AddChunk(ctx, c, vectors[i]); err != nil {
			return fmt.Errorf("writing chunk %d of %d: %w", i+1, len(docs), err)
		}
	}
	return nil
}

func (ix *sqliteIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	ok, err := ix.catalog.store.ScopeExists(ctx, ix.scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScopeNotFound
	}
	if k <= 0 {
		return nil, nil
	}

	vec, err := ix.catalog.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := ix.catalog.store.SearchChunks(ctx, ix.scope, vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		hits = append(hits, Hit{
			Document: Document{
				Text: sc.Chunk.Content,
				Metadata: Metadata{
					Source: sc.Chunk.Source,
					UserID: sc.Chunk.UserID,
					Tag:    sc.Chunk.Tag,
				},
			},
			Score: Score(sc.Similarity),
		})
	}
	return hits, nil
}
