package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/llm"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
)

// ExcerptRunes is how much page text the plan prompt carries.
const ExcerptRunes = 800

const (
	systemPrompt = `You are an ADHD‑friendly START‑FIRST coach.
Return ONLY valid JSON matching this schema:
{
  "micro_start": string,
  "step_type": "focus_input"|"click_selector"|"make_outline"|"open_url",
  "selector": string|null,
  "placeholder": string|null,
  "block_minutes": number,
  "check_ins": [ "T+5", "T+12" ],
  "reentry_script": string,
  "purpose": string,
  "deadline": string|null,
  "ai_policy": "ok"|"coach_only"
}`
	maxTokens   = 450
	temperature = 0.2
)

// Request asks for a plan toward Goal on the page Text.
type Request struct {
	UserID string `json:"user_id"`
	Goal   string `json:"goal"`
	Text   string `json:"text"`
}

// FieldExtractor reads application fields from page text.
type FieldExtractor interface {
	Extract(ctx context.Context, pageText, userID string) (*extract.Result, error)
}

// Composer builds plans from the user's profile, the extracted page fields
// and an LLM reply.
type Composer struct {
	extractor FieldExtractor
	profiles  profile.Repository
	provider  llm.Provider
	logger    *slog.Logger
}

// NewComposer returns a Composer. A nil provider makes every plan the
// static fallback.
func NewComposer(x FieldExtractor, profiles profile.Repository, p llm.Provider, logger *slog.Logger) *Composer {
	return &Composer{extractor: x, profiles: profiles, provider: p, logger: logging.OrDiscard(logger)}
}

// Compose builds one plan. Model and store failures fall back to defaults;
// only a cancelled context is returned as an error.
func (c *Composer) Compose(ctx context.Context, req Request) (*Plan, error) {
	if req.UserID == "" {
		req.UserID = profile.DefaultUserID
	}
	if c.provider == nil {
		p := Fallback()
		p.PlanID = uuid.NewString()
		return &p, nil
	}

	prof := c.loadProfile(ctx, req.UserID)
	parsed := c.parse(ctx, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checkins := ChooseCheckins(prof.Weights.NudgeSuccess)
	block := prof.Preferences.BlockMinutes
	if block <= 0 {
		block = Fallback().BlockMinutes
	}

	prompt, err := buildPrompt(req, prof, parsed, block, checkins)
	if err != nil {
		return nil, fmt.Errorf("building plan prompt: %w", err)
	}

	var r reply
	raw, err := c.provider.Complete(ctx, prompt, llm.CompletionOpts{
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Format:      "json",
		System:      systemPrompt,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		c.logger.Warn("plan completion failed", "provider", c.provider.Name(), "error", err)
		r = fallbackReply()
	default:
		if err := llm.DecodeJSON(raw, &r); err != nil {
			c.logger.Warn("plan reply unparseable", "provider", c.provider.Name(), "error", err)
			r = fallbackReply()
		}
	}

	p := r.merge(req.Text, parsed, block, checkins)
	p.PlanID = uuid.NewString()
	return &p, nil
}

func (c *Composer) loadProfile(ctx context.Context, userID string) *profile.Profile {
	if c.profiles == nil {
		return profile.Default(userID)
	}
	p, err := c.profiles.Get(ctx, userID)
	if err != nil {
		c.logger.Warn("profile unavailable, using defaults", "user", userID, "error", err)
		return profile.Default(userID)
	}
	return p
}

func (c *Composer) parse(ctx context.Context, req Request) extract.Fields {
	empty := extract.Fields{Values: []string{}, AIPolicy: extract.PolicyOK}
	if c.extractor == nil {
		return empty
	}
	res, err := c.extractor.Extract(ctx, req.Text, req.UserID)
	if err != nil {
		c.logger.Warn("field extraction failed", "user", req.UserID, "error", err)
		return empty
	}
	return res.Fields
}

type promptUser struct {
	Program       string              `json:"program"`
	Interests     []string            `json:"interests"`
	Prefs         profile.Preferences `json:"prefs"`
	LastFrictions []any               `json:"last_frictions"`
}

type promptConstraints struct {
	StartFirst       bool `json:"start_first"`
	MaxMicroWords    int  `json:"max_micro_words"`
	PreferFocusInput bool `json:"prefer_focus_input"`
}

type promptDefaults struct {
	BlockMinutes int      `json:"block_minutes"`
	CheckIns     []string `json:"check_ins"`
}

type promptObject struct {
	Goal        string            `json:"goal"`
	PageExcerpt string            `json:"page_excerpt"`
	Parsed      extract.Fields    `json:"parsed"`
	User        promptUser        `json:"user"`
	Constraints promptConstraints `json:"constraints"`
	Defaults    promptDefaults    `json:"defaults"`
}

func buildPrompt(req Request, prof *profile.Profile, parsed extract.Fields, block int, checkins []string) (string, error) {
	obj := promptObject{
		Goal:        req.Goal,
		PageExcerpt: retrieve.TruncateRunes(req.Text, ExcerptRunes),
		Parsed:      parsed,
		User: promptUser{
			Program:       prof.Program,
			Interests:     prof.Interests,
			Prefs:         prof.Preferences,
			LastFrictions: prof.LastFrictions(2),
		},
		Constraints: promptConstraints{StartFirst: true, MaxMicroWords: 12, PreferFocusInput: true},
		Defaults:    promptDefaults{BlockMinutes: block, CheckIns: checkins},
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// reply is the model's plan. Every field is optional; gaps are filled when
// merging.
type reply struct {
	MicroStart    string   `json:"micro_start"`
	StepType      string   `json:"step_type"`
	Selector      *string  `json:"selector"`
	Placeholder   *string  `json:"placeholder"`
	BlockMinutes  *float64 `json:"block_minutes"`
	CheckIns      []string `json:"check_ins"`
	ReentryScript string   `json:"reentry_script"`
	Purpose       string   `json:"purpose"`
	Deadline      *string  `json:"deadline"`
	AIPolicy      string   `json:"ai_policy"`
}

func fallbackReply() reply {
	fb := Fallback()
	block := float64(fb.BlockMinutes)
	return reply{
		MicroStart:    fb.MicroStart,
		StepType:      fb.StepType,
		Selector:      fb.Selector,
		Placeholder:   fb.Placeholder,
		BlockMinutes:  &block,
		CheckIns:      fb.CheckIns,
		ReentryScript: fb.ReentryScript,
		Purpose:       fb.Purpose,
		AIPolicy:      fb.AIPolicy,
	}
}

func (r reply) merge(pageText string, parsed extract.Fields, block int, checkins []string) Plan {
	fb := Fallback()
	p := Plan{
		MicroStart:    firstNonBlank(r.MicroStart, fb.MicroStart),
		StepType:      strings.TrimSpace(r.StepType),
		Selector:      nonBlank(r.Selector),
		Placeholder:   nonBlank(r.Placeholder),
		BlockMinutes:  block,
		CheckIns:      checkins,
		ReentryScript: firstNonBlank(r.ReentryScript, fb.ReentryScript),
		Purpose:       firstNonBlank(r.Purpose, fb.Purpose),
		Deadline:      parsed.Deadline,
		AIPolicy:      parsed.AIPolicy,
	}

	if r.BlockMinutes != nil && *r.BlockMinutes > 0 && !math.IsInf(*r.BlockMinutes, 0) {
		p.BlockMinutes = int(math.Round(*r.BlockMinutes))
	}
	if len(r.CheckIns) > 0 {
		p.CheckIns = r.CheckIns
	}
	if d := nonBlank(r.Deadline); d != nil {
		if norm := extract.NormalizeDate(*d); norm != nil {
			d = norm
		}
		p.Deadline = d
	}
	if extract.ValidPolicy(r.AIPolicy) {
		p.AIPolicy = r.AIPolicy
	}
	if !extract.ValidPolicy(p.AIPolicy) {
		p.AIPolicy = fb.AIPolicy
	}

	switch {
	case p.StepType == "":
		p.StepType = fb.StepType
	case !ValidStepType(p.StepType):
		step, selector := SuggestSelectorHint(pageText)
		p.StepType = step
		if p.Selector == nil && selector != "" {
			p.Selector = &selector
		}
	}
	if p.Placeholder == nil {
		p.Placeholder = fb.Placeholder
	}
	return p
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
