// Package index exposes the scoped similarity-search indexes that back
// retrieval: one shared global index plus one private index per user.
package index

import (
	"context"
	"errors"
)

// ErrScopeNotFound is returned by Search when nothing was ever written to
// the scope. Callers treat it as an empty result.
var ErrScopeNotFound = errors.New("scope not found")

// Metadata is the provenance attached to every indexed document.
type Metadata struct {
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// Document is one chunk of text to index.
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Hit is a search result. Score is nil when the backend cannot score.
type Hit struct {
	Document
	Score *float64 `json:"score,omitempty"`
}

// ScoreOrZero returns the hit score, treating a missing score as 0.
func (h Hit) ScoreOrZero() float64 {
	if h.Score == nil {
		return 0
	}
	return *h.Score
}

// Index is a single scope's similarity-search index.
type Index interface {
	Insert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Catalog hands out the global index and per-user indexes.
type Catalog interface {
	Global() Index
	User(userID string) Index
}

// Score is a convenience for building a Hit score pointer.
func Score(v float64) *float64 { return &v }
