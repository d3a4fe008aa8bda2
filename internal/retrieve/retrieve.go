// Package retrieve fuses the global corpus and a user's private notes into
// one ranked context.
//
// Both indexes are queried concurrently. Each hit is rescored as
//
//	final = similarity * penalty(source) + bonus
//
// where penalty comes from the user's adaptive weights and bonus is a flat
// UserAffinityBonus for the user's own chunks. The merged pool is sorted
// stably (global hits first on ties) and truncated to kGlobal+kUser.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/startfirst/startfirst/internal/index"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/profile"
)

// ErrRetrievalUnavailable is returned when the global index cannot be queried.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

const (
	// UserAffinityBonus is added to hits owned by the requesting user.
	UserAffinityBonus = 0.2

	// SnippetRunes is the length of each provenance snippet.
	SnippetRunes = 240

	// ContextSeparator joins candidate texts in the context string.
	ContextSeparator = "\n\n---\n\n"

	// DefaultStoreTimeout bounds each index query.
	DefaultStoreTimeout = 10 * time.Second
)

// Candidate is one ranked hit.
type Candidate struct {
	Text     string         `json:"text"`
	Metadata index.Metadata `json:"metadata"`
	Score    float64        `json:"score"`
	Origin   string         `json:"origin"` // "global" or "user"
}

// Source is the provenance of one candidate.
type Source struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
}

// FusedResult is the output of one retrieval. Sources is never nil and is
// aligned 1:1 with Candidates.
type FusedResult struct {
	Candidates []Candidate `json:"candidates"`
	Context    string      `json:"context"`
	Sources    []Source    `json:"sources"`
}

// Options configures a Retriever.
type Options struct {
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Retriever runs fusion retrieval. It only reads profiles.
type Retriever struct {
	catalog  index.Catalog
	profiles profile.Repository
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Retriever. A nil profiles repository means every user gets
// default weights.
func New(catalog index.Catalog, profiles profile.Repository, opts Options) *Retriever {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Retriever{
		catalog:  catalog,
		profiles: profiles,
		timeout:  opts.StoreTimeout,
		logger:   logging.OrDiscard(opts.Logger),
	}
}

// Retrieve returns up to kGlobal+kUser fused candidates for query. A side
// with k <= 0 is not queried. User-side failures degrade to global-only
// results; a global-side failure other than a missing scope returns
// ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query, userID string, kGlobal, kUser int) (*FusedResult, error) {
	var globalHits, userHits []index.Hit

	g, gctx := errgroup.WithContext(ctx)
	if kGlobal > 0 {
		g.Go(func() error {
			hits, err := r.search(gctx, r.catalog.Global(), query, kGlobal)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
			}
			globalHits = hits
			return nil
		})
	}
	if kUser > 0 && userID != "" {
		// The user side never fails the group, so it cannot cancel the global query.
		g.Go(func() error {
			hits, err := r.search(gctx, r.catalog.User(userID), query, kUser)
			if err != nil {
				r.logger.Warn("user store unavailable, continuing with global results",
					"user_id", userID, "err", err)
				return nil
			}
			userHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := r.loadWeights(ctx, userID)

	pool := make([]Candidate, 0, len(globalHits)+len(userHits))
	for _, h := range globalHits {
		if owner := h.Metadata.UserID; owner != "" && owner != userID {
			continue
		}
		pool = append(pool, score(h, "global", userID, weights))
	}
	for _, h := range userHits {
		if owner := h.Metadata.UserID; owner != "" && owner != userID {
			r.logger.Warn("dropping foreign chunk from user index",
				"user_id", userID, "owner", owner, "source", h.Metadata.Source)
			continue
		}
		pool = append(pool, score(h, "user", userID, weights))
	}

	if len(pool) == 0 {
		return &FusedResult{Candidates: []Candidate{}, Sources: []Source{}}, nil
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Score > pool[j].Score
	})

	n := kGlobal + kUser
	if n > len(pool) {
		n = len(pool)
	}
	if n < 1 {
		n = 1
	}
	top := pool[:n]

	texts := make([]string, len(top))
	sources := make([]Source, len(top))
	for i, c := range top {
		texts[i] = c.Text
		sources[i] = Source{Source: c.Metadata.Source, Snippet: Snippet(c.Text)}
	}

	return &FusedResult{
		Candidates: top,
		Context:    strings.Join(texts, ContextSeparator),
		Sources:    sources,
	}, nil
}

// search queries one index under the store timeout. A missing scope is an
// empty result.
func (r *Retriever) search(ctx context.Context, ix index.Index, query string, k int) ([]index.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	hits, err := ix.Search(ctx, query, k)
	if errors.Is(err, index.ErrScopeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// loadWeights returns the user's weights, or empty weights on any failure.
func (r *Retriever) loadWeights(ctx context.Context, userID string) profile.Weights {
	if r.profiles == nil || userID == "" {
		return profile.Weights{}
	}
	p, err := r.profiles.Get(ctx, userID)
	if err != nil {
		r.logger.Warn("profile unavailable, using default weights",
			"user_id", userID, "err", err)
		return profile.Weights{}
	}
	return p.Weights
}

func score(h index.Hit, origin, userID string, w profile.Weights) Candidate {
	final := h.ScoreOrZero() * w.Penalty(h.Metadata.Source)
	if userID != "" && h.Metadata.UserID == userID {
		final += UserAffinityBonus
	}
	return Candidate{
		Text:     h.Text,
		Metadata: h.Metadata,
		Score:    final,
		Origin:   origin,
	}
}

// Snippet returns the first SnippetRunes runes of text.
func Snippet(text string) string {
	return TruncateRunes(text, SnippetRunes)
}

// TruncateRunes returns at most n runes of text.
func TruncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
