package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/plan"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/scholarship"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRetriever struct {
	err        error
	userID     string
	kG, kU     int
	calledWith string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query, userID string, kGlobal, kUser int) (*retrieve.FusedResult, error) {
	f.calledWith, f.userID, f.kG, f.kU = query, userID, kGlobal, kUser
	if f.err != nil {
		return nil, f.err
	}
	return &retrieve.FusedResult{
		Candidates: []retrieve.Candidate{{Text: "deadline is May 1", Score: 0.9, Origin: "global"}},
		Context:    "deadline is May 1",
		Sources:    []retrieve.Source{{Source: "guide.md", Snippet: "deadline is May 1"}},
	}, nil
}

type fakeNotes struct {
	err   error
	scope ingest.Scope
	tag   string
}

func (f *fakeNotes) Ingest(ctx context.Context, text, source string, scope ingest.Scope, tag string) (int, error) {
	f.scope, f.tag = scope, tag
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type fakeExtractor struct{ userID string }

func (f *fakeExtractor) Extract(ctx context.Context, pageText, userID string) (*extract.Result, error) {
	f.userID = userID
	d := "2025-03-01"
	fields := extract.Fields{Deadline: &d, Values: []string{"grit"}, AIPolicy: extract.PolicyOK}
	return &extract.Result{Fields: fields, Confidence: fields.Confidence(), Sources: []retrieve.Source{}}, nil
}

type fakeComposer struct{}

func (fakeComposer) Compose(ctx context.Context, req plan.Request) (*plan.Plan, error) {
	p := plan.Fallback()
	p.PlanID = "plan-1"
	return &p, nil
}

type fakeFeedback struct {
	err error
	got profile.Feedback
}

func (f *fakeFeedback) ApplyFeedback(ctx context.Context, fb profile.Feedback) (bool, error) {
	f.got = fb
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, body map[string]any) float64 {
	t.Helper()
	assert.Equal(t, false, body["success"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok)
	return e["code"].(float64)
}

func TestHealth(t *testing.T) {
	w := do(t, NewRouter(Deps{}), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["ts"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/parse", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	NewRouter(Deps{}).ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestParse(t *testing.T) {
	x := &fakeExtractor{}
	r := NewRouter(Deps{Extractor: x})

	t.Run("returns fields with confidence and sources", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/parse", ParseRequest{Text: "page"})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "2025-03-01", body["deadline"])
		assert.Nil(t, body["refs_required"])
		assert.Equal(t, []any{"grit"}, body["values"])
		assert.Equal(t, "ok", body["ai_policy"])
		assert.InDelta(t, 0.8, body["confidence"].(float64), 1e-9)
		assert.Equal(t, []any{}, body["sources"])
		assert.Equal(t, profile.DefaultUserID, x.userID)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/parse", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, float64(ErrBadRequest), errorCode(t, decode(t, w)))
	})
}

func TestPlan(t *testing.T) {
	r := NewRouter(Deps{Composer: fakeComposer{}})

	t.Run("returns the composed plan", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/plan", plan.Request{Goal: "start essay"})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "plan-1", body["plan_id"])
		assert.Equal(t, "make_outline", body["step_type"])
		assert.Equal(t, []any{"T+5", "T+12"}, body["check_ins"])
		assert.Nil(t, body["deadline"])
	})

	t.Run("requires a goal", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/plan", plan.Request{Text: "page"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFeedback(t *testing.T) {
	t.Run("reports adapted when the profile was saved", func(t *testing.T) {
		fb := &fakeFeedback{}
		r := NewRouter(Deps{Feedback: fb})
		w := do(t, r, http.MethodPost, "/feedback", map[string]any{
			"reasons":      []string{"too_long"},
			"nudge_result": map[string]string{"T+5": "success"},
			"bad_sources":  []string{"spam.html"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"ok": true, "adapted": true}, decode(t, w))
		assert.Equal(t, profile.DefaultUserID, fb.got.UserID)
		assert.Equal(t, []string{"spam.html"}, fb.got.BadSources)
	})

	t.Run("reports not adapted when saving fails", func(t *testing.T) {
		r := NewRouter(Deps{Feedback: &fakeFeedback{err: errors.New("disk full")}})
		w := do(t, r, http.MethodPost, "/feedback", map[string]any{"user_id": "u1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"ok": true, "adapted": false}, decode(t, w))
	})
}

func TestNotes(t *testing.T) {
	t.Run("ingests into the user scope", func(t *testing.T) {
		n := &fakeNotes{}
		w := do(t, NewRouter(Deps{Notes: n}), http.MethodPost, "/notes", NoteRequest{UserID: "u1", Text: "I froze on the essay", Tag: "friction"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ingest.User("u1"), n.scope)
		assert.Equal(t, "friction", n.tag)
		assert.Equal(t, float64(1), decode(t, w)["chunks"])
	})

	t.Run("maps storage failure to 503", func(t *testing.T) {
		n := &fakeNotes{err: fmt.Errorf("%w: %w", ingest.ErrStorageUnavailable, errors.New("readonly"))}
		w := do(t, NewRouter(Deps{Notes: n}), http.MethodPost, "/notes", NoteRequest{Text: "x"})
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, float64(ErrServiceUnavailable), errorCode(t, decode(t, w)))
	})

	t.Run("requires text", func(t *testing.T) {
		w := do(t, NewRouter(Deps{Notes: &fakeNotes{}}), http.MethodPost, "/notes", NoteRequest{UserID: "u1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRetrieve(t *testing.T) {
	t.Run("uses default depths", func(t *testing.T) {
		fr := &fakeRetriever{}
		w := do(t, NewRouter(Deps{Retriever: fr}), http.MethodPost, "/retrieve", map[string]any{"query": "deadline"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, DefaultKGlobal, fr.kG)
		assert.Equal(t, DefaultKUser, fr.kU)
		assert.Equal(t, profile.DefaultUserID, fr.userID)
		body := decode(t, w)
		assert.Equal(t, "deadline is May 1", body["context"])
		assert.Len(t, body["sources"], 1)
	})

	t.Run("passes explicit zero depth through", func(t *testing.T) {
		fr := &fakeRetriever{}
		w := do(t, NewRouter(Deps{Retriever: fr}), http.MethodPost, "/retrieve", map[string]any{"query": "q", "k_user": 0, "k_global": 2})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, fr.kG)
		assert.Equal(t, 0, fr.kU)
	})

	t.Run("maps unavailable retrieval to 503", func(t *testing.T) {
		fr := &fakeRetriever{err: fmt.Errorf("%w: %w", retrieve.ErrRetrievalUnavailable, errors.New("locked"))}
		w := do(t, NewRouter(Deps{Retriever: fr}), http.MethodPost, "/retrieve", map[string]any{"query": "q"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("rejects negative depth", func(t *testing.T) {
		w := do(t, NewRouter(Deps{Retriever: &fakeRetriever{}}), http.MethodPost, "/retrieve", map[string]any{"query": "q", "k_global": -1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestScholarships(t *testing.T) {
	level := "Undergrad"
	repo := scholarship.NewRepository([]scholarship.Scholarship{
		{ID: "a", Title: "ADHD Award", SourceSite: "StudentAwards", LevelOfStudy: &level},
		{ID: "b", Title: "STEM Grant", SourceSite: "ScholarshipsCanada"},
	})
	r := NewRouter(Deps{Scholarships: repo})

	t.Run("lists with filters", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/scholarships?source_site=studentawards", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var items []scholarship.Scholarship
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
		require.Len(t, items, 1)
		assert.Equal(t, "a", items[0].ID)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/scholarships?limit=lots", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("gets one by id", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/scholarships/b", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "STEM Grant", decode(t, w)["title"])
	})

	t.Run("returns 404 for an unknown id", func(t *testing.T) {
		w := do(t, r, http.MethodGet, "/scholarships/zzz", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, float64(ErrNotFound), errorCode(t, decode(t, w)))
	})
}

func TestRecovery(t *testing.T) {
	r := NewRouter(Deps{Composer: panicComposer{}})
	w := do(t, r, http.MethodPost, "/plan", plan.Request{Goal: "g"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type panicComposer struct{}

func (panicComposer) Compose(ctx context.Context, req plan.Request) (*plan.Plan, error) {
	panic("boom")
}
