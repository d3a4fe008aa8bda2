// Package ingest feeds documents into the scoped indexes.
//
// Documents are split into overlapping rune windows (wider for the global
// corpus, narrower for personal notes) and inserted in batches with their
// provenance. Writes are at-least-once: a failure part way through leaves
// the batches already written in place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/startfirst/startfirst/internal/chunk"
	"github.com/startfirst/startfirst/internal/index"
	"github.com/startfirst/startfirst/internal/logging"
)

// ErrStorageUnavailable is returned when the backing store cannot be
// opened, created or written.
var ErrStorageUnavailable = errors.New("storage unavailable")

// DefaultBatchSize is the number of chunks embedded and written per call.
const DefaultBatchSize = 50

// DefaultNoteTag is applied to user notes ingested without a tag.
const DefaultNoteTag = "note"

// Scope selects the global corpus or one user's notes.
type Scope struct {
	UserID string
}

// Global is the shared reference corpus.
var Global = Scope{}

// User returns the scope of userID's private notes.
func User(userID string) Scope {
	return Scope{UserID: userID}
}

// IsGlobal reports whether s targets the shared corpus.
func (s Scope) IsGlobal() bool { return s.UserID == "" }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "user:" + s.UserID
}

// Options configures a Pipeline.
type Options struct {
	BatchSize int
	Logger    *slog.Logger
}

// Pipeline chunks documents and writes them to a catalog.
type Pipeline struct {
	catalog   index.Catalog
	batchSize int
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline over catalog.
func NewPipeline(catalog index.Catalog, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Pipeline{
		catalog:   catalog,
		batchSize: opts.BatchSize,
		logger:    logging.OrDiscard(opts.Logger),
	}
}

// Ingest splits text into chunks and writes them to scope, returning the
// number of chunks produced. Whitespace-only text writes nothing. Chunks are
// never de-duplicated; ingesting the same text twice stores it twice.
func (p *Pipeline) Ingest(ctx context.Context, text, source string, scope Scope, tag string) (int, error) {
	window := chunk.GlobalWindow
	target := p.catalog.Global()
	if !scope.IsGlobal() {
		window = chunk.UserWindow
		target = p.catalog.User(scope.UserID)
		if tag == "" {
			tag = DefaultNoteTag
		}
	}

	pieces, err := chunk.Split(text, window)
	if err != nil {
		return 0, fmt.Errorf("splitting %s: %w", source, err)
	}
	if len(pieces) == 0 {
		return 0, nil
	}

	docs := make([]index.Document, len(pieces))
	for i, piece := range pieces {
		docs[i] = index.Document{
			Text: piece,
			Metadata: index.Metadata{
				Source: source,
				UserID: scope.UserID,
				Tag:    tag,
			},
		}
	}

	for start := 0; start < len(docs); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return len(pieces), err
		}
		end := start + p.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := target.Insert(ctx, docs[start:end]); err != nil {
			if ctx.Err() != nil {
				return len(pieces), ctx.Err()
			}
			p.logger.Error("chunk write failed",
				"scope", scope.String(), "source", source, "written", start, "err", err)
			return len(pieces), fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	p.logger.Debug("ingested document",
		"scope", scope.String(), "source", source, "chunks", len(pieces))
	return len(pieces), nil
}
