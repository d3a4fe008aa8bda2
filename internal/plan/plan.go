// Package plan composes start-first plans: one tiny first action, a short
// focus block with check-ins, and a re-entry script for after a pause.
package plan

import (
	"sort"
	"strings"

	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/profile"
)

// Step types a plan's first action can take.
const (
	StepFocusInput    = "focus_input"
	StepClickSelector = "click_selector"
	StepMakeOutline   = "make_outline"
	StepOpenURL       = "open_url"
)

// CheckinPool is the set of check-in offsets the composer picks from.
var CheckinPool = []string{"T+5", "T+8", "T+10", "T+12"}

// Plan is the start-first plan handed to the client.
type Plan struct {
	PlanID        string   `json:"plan_id"`
	MicroStart    string   `json:"micro_start"`
	StepType      string   `json:"step_type"`
	Selector      *string  `json:"selector"`
	Placeholder   *string  `json:"placeholder"`
	BlockMinutes  int      `json:"block_minutes"`
	CheckIns      []string `json:"check_ins"`
	ReentryScript string   `json:"reentry_script"`
	Purpose       string   `json:"purpose"`
	Deadline      *string  `json:"deadline"`
	AIPolicy      string   `json:"ai_policy"`
}

// Fallback returns the static plan used when no model reply is available.
func Fallback() Plan {
	placeholder := "Bullet 1: Why I fit…"
	return Plan{
		MicroStart:    "Open the scholarship page and copy the requirements.",
		StepType:      StepMakeOutline,
		Placeholder:   &placeholder,
		BlockMinutes:  20,
		CheckIns:      []string{"T+5", "T+12"},
		ReentryScript: "I paused; I'll just finish copying requirements.",
		Purpose:       "Reduce startup friction for this application.",
		AIPolicy:      extract.PolicyOK,
	}
}

// ValidStepType reports whether s is one of the known step types.
func ValidStepType(s string) bool {
	switch s {
	case StepFocusInput, StepClickSelector, StepMakeOutline, StepOpenURL:
		return true
	}
	return false
}

// SuggestSelectorHint guesses a step type and a selector alternation from
// the page text.
func SuggestSelectorHint(pageText string) (stepType, selector string) {
	t := strings.ToLower(pageText)
	switch {
	case strings.Contains(t, "apply"):
		return StepClickSelector, "apply|apply now|submit application"
	case strings.Contains(t, "cover letter"), strings.Contains(t, "summary"), strings.Contains(t, "why us"):
		return StepFocusInput, "textarea|input|editor"
	}
	return StepMakeOutline, ""
}

// ChooseCheckins ranks the check-in pool by the Laplace-smoothed success
// rate (s+1)/(s+f+2) and returns the best two. Ties keep pool order.
func ChooseCheckins(stats map[string]profile.NudgeStats) []string {
	pool := make([]string, len(CheckinPool))
	copy(pool, CheckinPool)

	rate := func(k string) float64 {
		s := stats[k]
		return float64(s.Success+1) / float64(s.Success+s.Fail+2)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return rate(pool[i]) > rate(pool[j])
	})
	return pool[:2]
}
