// Package scholarship serves a read-only catalog of scholarship listings
// loaded from a JSON file.
package scholarship

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/startfirst/startfirst/internal/logging"
)

// DefaultLimit is the page size when List is called without one.
const DefaultLimit = 50

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("scholarship not found")

// WinnerStory links to a past winner's profile or sample application.
type WinnerStory struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	SourceURL string  `json:"source_url"`
	Note      *string `json:"note"`
}

// Scholarship is one listing.
type Scholarship struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	SourceSite         string        `json:"source_site"`
	SourceURL          string        `json:"source_url"`
	ApplyURL           *string       `json:"apply_url"`
	ProviderName       *string       `json:"provider_name"`
	Amount             *float64      `json:"amount"`
	Currency           string        `json:"currency"`
	DeadlineDate       *string       `json:"deadline_date"`
	DescriptionShort   *string       `json:"description_short"`
	EligibilitySummary *string       `json:"eligibility_summary"`
	LevelOfStudy       *string       `json:"level_of_study"`
	Location           *string       `json:"location"`
	Tags               []string      `json:"tags"`
	WinnerStories      []WinnerStory `json:"winner_stories"`
}

// Filter selects listings. Empty fields match everything.
type Filter struct {
	Query        string
	SourceSite   string
	LevelOfStudy string
	Limit        int
	Offset       int
}

// Repository holds the listings in memory.
type Repository struct {
	items []Scholarship
}

// Load reads listings from path. A missing, empty or malformed file yields
// an empty repository; the problem is logged.
func Load(path string, logger *slog.Logger) *Repository {
	logger = logging.OrDiscard(logger)
	items, err := readFile(path)
	if err != nil {
		logger.Warn("scholarship listings unavailable", "path", path, "error", err)
		return &Repository{}
	}
	logger.Debug("scholarship listings loaded", "path", path, "count", len(items))
	return &Repository{items: items}
}

// NewRepository returns a repository over items.
func NewRepository(items []Scholarship) *Repository {
	r := &Repository{items: make([]Scholarship, len(items))}
	for i, s := range items {
		r.items[i] = normalize(s)
	}
	return r
}

func readFile(path string) ([]Scholarship, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var items []Scholarship
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i := range items {
		if items[i].ID == "" || items[i].Title == "" {
			return nil, fmt.Errorf("parsing %s: listing %d missing id or title", path, i)
		}
		items[i] = normalize(items[i])
	}
	return items, nil
}

func normalize(s Scholarship) Scholarship {
	if s.Currency == "" {
		s.Currency = "CAD"
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.WinnerStories == nil {
		s.WinnerStories = []WinnerStory{}
	}
	return s
}

// Len returns the number of listings.
func (r *Repository) Len() int { return len(r.items) }

// List returns the listings matching f, in file order. Site and level
// compare case-insensitively; Query is a case-insensitive substring of the
// title, short description or eligibility summary.
func (r *Repository) List(f Filter) []Scholarship {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := max(f.Offset, 0)
	q := strings.ToLower(strings.TrimSpace(f.Query))

	out := []Scholarship{}
	skipped := 0
	for _, s := range r.items {
		if f.SourceSite != "" && !strings.EqualFold(s.SourceSite, f.SourceSite) {
			continue
		}
		if f.LevelOfStudy != "" && !strings.EqualFold(deref(s.LevelOfStudy), f.LevelOfStudy) {
			continue
		}
		if q != "" && !matches(s, q) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Get returns the listing with id.
func (r *Repository) Get(id string) (Scholarship, error) {
	for _, s := range r.items {
		if s.ID == id {
			return s, nil
		}
	}
	return Scholarship{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func matches(s Scholarship, q string) bool {
	for _, field := range []string{s.Title, deref(s.DescriptionShort), deref(s.EligibilitySummary)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
