// Package profile stores per-user preferences, history and the adaptive
// weights that retrieval reads.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedProfile is returned when a stored profile cannot be decoded
// or violates its invariants (for example a non-positive source penalty).
var ErrMalformedProfile = errors.New("malformed profile")

// ErrUnknownWeightTable is returned by UpdateWeight for unsupported tables.
var ErrUnknownWeightTable = errors.New("unknown weight table")

// DefaultUserID is used when a request names no user.
const DefaultUserID = "demo-user"

// MinPenaltyFactor is the floor for source penalties. Repeated negative
// feedback approaches it but never reaches zero.
const MinPenaltyFactor = 1e-9

// BadSourceFactor multiplies a source's penalty on each negative signal.
const BadSourceFactor = 0.7

// Weight table names.
const (
	TableSourcePenalty = "source_penalty"
	TableNudgeSuccess  = "nudge_success"
)

// History keys used by the defaults.
const (
	HistoryApps      = "apps"
	HistoryWins      = "wins"
	HistoryFrictions = "frictions"
)

// Profile is one user's stored document.
type Profile struct {
	UserID       string           `json:"user_id"`
	Demographics Demographics     `json:"demographics"`
	Program      string           `json:"program"`
	Interests    []string         `json:"interests"`
	Preferences  Preferences      `json:"preferences"`
	History      map[string][]any `json:"history"`
	Weights      Weights          `json:"weights"`
}

type Demographics struct {
	Timezone string `json:"timezone"`
}

// Preferences steer plan tone and pacing.
type Preferences struct {
	Tone                  string   `json:"tone"`
	BlockMinutes          int      `json:"block_minutes"`
	Checkins              []string `json:"checkins"`
	CoachOnlyOnRestricted bool     `json:"coach_only_on_restricted"`
}

// Weights holds adaptive per-user scoring state.
type Weights struct {
	SourcePenalty map[string]float64    `json:"source_penalty"`
	NudgeSuccess  map[string]NudgeStats `json:"nudge_success"`
}

// NudgeStats counts check-in outcomes for one check-in label.
type NudgeStats struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// Default returns the profile assigned to a user seen for the first time.
func Default(userID string) *Profile {
	if userID == "" {
		userID = DefaultUserID
	}
	return &Profile{
		UserID:       userID,
		Demographics: Demographics{Timezone: "America/Toronto"},
		Program:      "UofT Industrial Engineering",
		Interests:    []string{"AI/ML"},
		Preferences: Preferences{
			Tone:                  "warm_direct",
			BlockMinutes:          20,
			Checkins:              []string{"T+5", "T+12"},
			CoachOnlyOnRestricted: true,
		},
		History: map[string][]any{
			HistoryApps:      {},
			HistoryWins:      {},
			HistoryFrictions: {},
		},
		Weights: Weights{
			SourcePenalty: map[string]float64{},
			NudgeSuccess:  map[string]NudgeStats{},
		},
	}
}

// Penalty returns the penalty factor for source, 1.0 when none is recorded.
func (w Weights) Penalty(source string) float64 {
	if p, ok := w.SourcePenalty[source]; ok {
		return p
	}
	return 1.0
}

// LastFrictions returns up to n most recent friction history entries.
func (p *Profile) LastFrictions(n int) []any {
	f := p.History[HistoryFrictions]
	if len(f) > n {
		f = f[len(f)-n:]
	}
	out := make([]any, len(f))
	copy(out, f)
	return out
}

// Decode parses a stored profile and validates it. Missing sections are
// filled in so callers never see nil maps.
func Decode(data []byte, userID string) (*Profile, error) {
	p := Default(userID)
	// Missing sections keep their defaults; present ones replace them.
	p.History = nil
	p.Weights = Weights{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProfile, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.normalize()
	return p, nil
}

// Encode serializes the profile.
func (p *Profile) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func (p *Profile) validate() error {
	for source, v := range p.Weights.SourcePenalty {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: penalty for %q is %v", ErrMalformedProfile, source, v)
		}
	}
	for label, s := range p.Weights.NudgeSuccess {
		if s.Success < 0 || s.Fail < 0 {
			return fmt.Errorf("%w: negative nudge counts for %q", ErrMalformedProfile, label)
		}
	}
	return nil
}

func (p *Profile) normalize() {
	if p.History == nil {
		p.History = map[string][]any{}
	}
	for _, key := range []string{HistoryApps, HistoryWins, HistoryFrictions} {
		if p.History[key] == nil {
			p.History[key] = []any{}
		}
	}
	if p.Weights.SourcePenalty == nil {
		p.Weights.SourcePenalty = map[string]float64{}
	}
	if p.Weights.NudgeSuccess == nil {
		p.Weights.NudgeSuccess = map[string]NudgeStats{}
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.Preferences.Checkins == nil {
		p.Preferences.Checkins = []string{}
	}
}

// penalize multiplies the penalty of source by factor, respecting the floor.
func (w *Weights) penalize(source string, factor float64) {
	v := w.Penalty(source) * factor
	if v < MinPenaltyFactor {
		v = MinPenaltyFactor
	}
	w.SourcePenalty[source] = v
}
