// Package mcp provides a Model Context Protocol server for startfirst.
//
// It exposes retrieval, note capture, field extraction, plan composition and
// feedback as MCP tools, and store statistics as an MCP resource. The server
// speaks stdio, for editors and desktop assistants.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/plan"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/store"
)

// Retriever runs fused retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID string, kGlobal, kUser int) (*retrieve.FusedResult, error)
}

// NoteIngester writes text into a scope.
type NoteIngester interface {
	Ingest(ctx context.Context, text, source string, scope ingest.Scope, tag string) (int, error)
}

// FieldExtractor reads application fields from page text.
type FieldExtractor interface {
	Extract(ctx context.Context, pageText, userID string) (*extract.Result, error)
}

// PlanComposer builds start-first plans.
type PlanComposer interface {
	Compose(ctx context.Context, req plan.Request) (*plan.Plan, error)
}

// FeedbackApplier adapts a profile to plan feedback.
type FeedbackApplier interface {
	ApplyFeedback(ctx context.Context, fb profile.Feedback) (bool, error)
}

// StatsSource reports store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (*store.StoreStats, error)
}

// ServerConfig holds the services behind the MCP tools. Nil services leave
// their tools unregistered.
type ServerConfig struct {
	Version   string // version string for MCP server info
	Retriever Retriever
	Notes     NoteIngester
	Extractor FieldExtractor
	Composer  PlanComposer
	Feedback  FeedbackApplier
	Stats     StatsSource
	Logger    *slog.Logger
}

// Default retrieval depth for startfirst_retrieve.
const (
	defaultKGlobal = 4
	defaultKUser   = 4
	maxK           = 50
)

// writeMu serializes tool calls that write. mcp-go dispatches handlers
// concurrently and SQLite allows one writer at a time.
var writeMu sync.Mutex

// NewServer creates a configured MCP server with all startfirst tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := logging.OrDiscard(cfg.Logger)

	s := server.NewMCPServer(
		"startfirst",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	if cfg.Retriever != nil {
		registerRetrieveTool(s, cfg.Retriever)
	}
	if cfg.Notes != nil {
		registerAddNoteTool(s, cfg.Notes)
	}
	if cfg.Extractor != nil {
		registerParseTool(s, cfg.Extractor)
	}
	if cfg.Composer != nil {
		registerPlanTool(s, cfg.Composer)
	}
	if cfg.Feedback != nil {
		registerFeedbackTool(s, cfg.Feedback, logger)
	}
	if cfg.Stats != nil {
		registerStatsResource(s, cfg.Stats)
	}

	return s
}

// ServeStdio runs srv over stdin/stdout until the client disconnects.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

// --- Tools ---

func registerRetrieveTool(s *server.MCPServer, r Retriever) {
	tool := mcp.NewTool("startfirst_retrieve",
		mcp.WithDescription("Retrieve ranked context for a query from the shared reference corpus and the user's own notes. Returns candidates, the joined context and source provenance."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithString("user_id",
			mcp.Description("User whose notes and source penalties apply (default: demo-user)"),
		),
		mcp.WithNumber("k_global",
			mcp.Description("Hits to request from the shared corpus (default: 4, 0 skips it)"),
		),
		mcp.WithNumber("k_user",
			mcp.Description("Hits to request from the user's notes (default: 4, 0 skips them)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		kG, err := optionalK(req, "k_global", defaultKGlobal)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kU, err := optionalK(req, "k_user", defaultKUser)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := r.Retrieve(ctx, query, userID(req), kG, kU)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("retrieve error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerAddNoteTool(s *server.MCPServer, n NoteIngester) {
	tool := mcp.NewTool("startfirst_add_note",
		mcp.WithDescription("Save a personal note (a friction, a win, a draft) to the user's private index so later retrieval can use it."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Note text"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner of the note (default: demo-user)"),
		),
		mcp.WithString("tag",
			mcp.Description("Free-form tag such as friction or win (default: note)"),
		),
		mcp.WithString("source",
			mcp.Description("Provenance label shown in retrieval sources (default: note)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		writeMu.Lock()
		defer writeMu.Unlock()

		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		source := optionalString(req, "source")
		if source == "" {
			source = "note"
		}
		uid := userID(req)

		count, err := n.Ingest(ctx, text, source, ingest.User(uid), optionalString(req, "tag"))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("add note error: %v", err)), nil
		}
		return jsonResult(map[string]any{"user_id": uid, "chunks": count})
	})
}

func registerParseTool(s *server.MCPServer, x FieldExtractor) {
	tool := mcp.NewTool("startfirst_parse",
		mcp.WithDescription("Extract the deadline, referee count, stated values and AI-use policy from a scholarship or job page."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Page text"),
		),
		mcp.WithString("user_id",
			mcp.Description("User whose notes provide extra context (default: demo-user)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		res, err := x.Extract(ctx, text, userID(req))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerPlanTool(s *server.MCPServer, c PlanComposer) {
	tool := mcp.NewTool("startfirst_plan",
		mcp.WithDescription("Compose a start-first plan: one tiny first action, a focus block with check-ins and a re-entry script."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("goal",
			mcp.Required(),
			mcp.Description("What the user wants to get started on"),
		),
		mcp.WithString("text",
			mcp.Description("Page text of the application, if any"),
		),
		mcp.WithString("user_id",
			mcp.Description("User whose profile shapes the plan (default: demo-user)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal, err := req.RequireString("goal")
		if err != nil || strings.TrimSpace(goal) == "" {
			return mcp.NewToolResultError("goal is required"), nil
		}
		p, err := c.Compose(ctx, plan.Request{UserID: userID(req), Goal: goal, Text: optionalString(req, "text")})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("plan error: %v", err)), nil
		}
		return jsonResult(p)
	})
}

func registerFeedbackTool(s *server.MCPServer, f FeedbackApplier, logger *slog.Logger) {
	tool := mcp.NewTool("startfirst_feedback",
		mcp.WithDescription("Record feedback on a plan. Adapts tone, penalizes unhelpful sources and learns which check-in times work."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Description("User giving feedback (default: demo-user)"),
		),
		mcp.WithString("plan_id",
			mcp.Description("Plan the feedback is about"),
		),
		mcp.WithNumber("rating",
			mcp.Description("Optional rating"),
		),
		mcp.WithString("reasons",
			mcp.Description("Comma-separated reasons, e.g. too_long"),
		),
		mcp.WithString("bad_sources",
			mcp.Description("Comma-separated sources that were unhelpful"),
		),
		mcp.WithString("nudge_result",
			mcp.Description("Comma-separated check-in outcomes, e.g. T+5=success,T+12=fail"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		writeMu.Lock()
		defer writeMu.Unlock()

		fb := profile.Feedback{
			UserID:     userID(req),
			PlanID:     optionalString(req, "plan_id"),
			Reasons:    splitList(optionalString(req, "reasons")),
			BadSources: splitList(optionalString(req, "bad_sources")),
		}
		if v, err := req.RequireFloat("rating"); err == nil {
			rating := int(v)
			fb.Rating = &rating
		}
		nudges, err := parseNudges(optionalString(req, "nudge_result"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fb.NudgeResult = nudges

		adapted, err := f.ApplyFeedback(ctx, fb)
		if err != nil {
			logger.Warn("feedback not applied", "user_id", fb.UserID, "error", err)
			adapted = false
		}
		return jsonResult(map[string]any{"ok": true, "adapted": adapted})
	})
}

// --- Helpers ---

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func optionalString(req mcp.CallToolRequest, name string) string {
	v, err := req.RequireString(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func userID(req mcp.CallToolRequest) string {
	if id := optionalString(req, "user_id"); id != "" {
		return id
	}
	return profile.DefaultUserID
}

func optionalK(req mcp.CallToolRequest, name string, fallback int) (int, error) {
	v, err := req.RequireFloat(name)
	if err != nil {
		return fallback, nil
	}
	k := int(v)
	if k < 0 {
		return 0, fmt.Errorf("%s must be non-negative", name)
	}
	if k > maxK {
		k = maxK
	}
	return k, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var errBadNudge = errors.New("nudge_result entries must look like T+5=success")

func parseNudges(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		label, outcome, ok := strings.Cut(pair, "=")
		label, outcome = strings.TrimSpace(label), strings.TrimSpace(outcome)
		if !ok || label == "" || outcome == "" {
			return nil, fmt.Errorf("%w: %q", errBadNudge, pair)
		}
		out[label] = outcome
	}
	return out, nil
}
