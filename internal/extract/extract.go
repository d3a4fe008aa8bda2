// Package extract pulls application fields (deadline, referee count,
// values, AI-use policy) out of a scholarship or job page.
//
// The page text is paired with context retrieved from the global corpus and
// the user's notes, then sent to an LLM that answers in JSON. Without an LLM
// only the AI-use policy is detected, by pattern matching.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/startfirst/startfirst/internal/llm"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/retrieve"
)

// Retrieval parameters for the extraction context.
const (
	Query   = "deadline reference referee values policy apply requirements scholarship job"
	KGlobal = 4
	KUser   = 4
)

// MaxSources caps the provenance list returned with a result.
const MaxSources = 3

// PageRunes is how much of the page text goes into the prompt.
const PageRunes = 4000

const (
	systemPrompt = "Return JSON only. No extra text."
	maxTokens    = 400

	schema = `Return JSON with exactly these fields:
{
  "deadline": string|null,      // YYYY-MM-DD if possible
  "refs_required": number|null,
  "values": string[],
  "ai_policy": "ok"|"coach_only"
}`
)

// Retriever is the retrieval surface the extractor needs.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID string, kGlobal, kUser int) (*retrieve.FusedResult, error)
}

// Fields are the extracted application fields.
type Fields struct {
	Deadline     *string  `json:"deadline"`
	RefsRequired *int     `json:"refs_required"`
	Values       []string `json:"values"`
	AIPolicy     string   `json:"ai_policy"`
}

// Found counts the fields that carry a usable value.
func (f Fields) Found() int {
	n := 0
	if f.Deadline != nil && *f.Deadline != "" {
		n++
	}
	if f.RefsRequired != nil && *f.RefsRequired > 0 {
		n++
	}
	if len(f.Values) > 0 {
		n++
	}
	return n
}

// Confidence is a coarse score that grows with the number of found fields.
func (f Fields) Confidence() float64 {
	return math.Min(0.5+0.15*float64(f.Found()), 0.98)
}

// Result is one extraction.
type Result struct {
	Fields
	Confidence float64           `json:"confidence"`
	Sources    []retrieve.Source `json:"sources"`
}

// Extractor runs field extraction. A nil provider selects pattern-only
// detection.
type Extractor struct {
	retriever Retriever
	provider  llm.Provider
	logger    *slog.Logger
}

// New returns an Extractor.
func New(r Retriever, p llm.Provider, logger *slog.Logger) *Extractor {
	return &Extractor{retriever: r, provider: p, logger: logging.OrDiscard(logger)}
}

// Extract reads the fields of pageText for userID. Retrieval and LLM
// failures degrade the result instead of failing it; only a cancelled
// context is returned as an error.
func (e *Extractor) Extract(ctx context.Context, pageText, userID string) (*Result, error) {
	if e.provider == nil {
		return newResult(Fields{Values: []string{}, AIPolicy: DetectAIPolicy(pageText, "")}, nil), nil
	}

	var (
		contextText string
		sources     []retrieve.Source
	)
	if e.retriever != nil {
		fused, err := e.retriever.Retrieve(ctx, Query, userID, KGlobal, KUser)
		switch {
		case err == nil:
			contextText, sources = fused.Context, fused.Sources
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, retrieve.ErrRetrievalUnavailable):
			e.logger.Warn("extraction context unavailable", "user", userID, "error", err)
		default:
			e.logger.Warn("extraction retrieval failed", "user", userID, "error", err)
		}
	}

	raw, err := e.provider.Complete(ctx, buildPrompt(pageText, contextText), llm.CompletionOpts{
		MaxTokens: maxTokens,
		Format:    "json",
		System:    systemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("extraction completion failed", "provider", e.provider.Name(), "error", err)
		return newResult(emptyFields(), sources), nil
	}

	fields, err := parseFields(raw)
	if err != nil {
		e.logger.Warn("extraction reply unparseable", "provider", e.provider.Name(), "error", err)
		return newResult(emptyFields(), sources), nil
	}
	if !ValidPolicy(fields.AIPolicy) {
		fields.AIPolicy = DetectAIPolicy(pageText, contextText)
	}
	return newResult(fields, sources), nil
}

func newResult(f Fields, sources []retrieve.Source) *Result {
	if len(sources) > MaxSources {
		sources = sources[:MaxSources]
	}
	if sources == nil {
		sources = []retrieve.Source{}
	}
	return &Result{Fields: f, Confidence: f.Confidence(), Sources: sources}
}

func emptyFields() Fields {
	return Fields{Values: []string{}, AIPolicy: PolicyOK}
}

func buildPrompt(pageText, contextText string) string {
	var b strings.Builder
	b.WriteString("\nYou extract fields from CONTEXT. If uncertain, use null or empty list. No extra words.\n\nCONTEXT:\n")
	b.WriteString(retrieve.TruncateRunes(pageText, PageRunes))
	b.WriteString("\n\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	b.WriteString(schema)
	b.WriteString("\n")
	return b.String()
}

// reply mirrors the model's JSON loosely; models return numbers as strings
// and lists as single strings often enough to tolerate both.
type reply struct {
	Deadline     json.RawMessage `json:"deadline"`
	RefsRequired json.RawMessage `json:"refs_required"`
	Values       json.RawMessage `json:"values"`
	AIPolicy     string          `json:"ai_policy"`
}

func parseFields(raw string) (Fields, error) {
	var r reply
	if err := llm.DecodeJSON(raw, &r); err != nil {
		return Fields{}, err
	}

	f := Fields{
		RefsRequired: parseRefs(r.RefsRequired),
		Values:       parseValues(r.Values),
		AIPolicy:     strings.ToLower(strings.TrimSpace(r.AIPolicy)),
	}
	var deadline string
	if err := json.Unmarshal(r.Deadline, &deadline); err == nil {
		f.Deadline = NormalizeDate(deadline)
	}
	return f, nil
}

func parseRefs(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		n = float64(v)
	}
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	v := int(n)
	return &v
}

func parseValues(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
		return out
	}
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
