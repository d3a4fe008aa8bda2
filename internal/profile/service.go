package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/startfirst/startfirst/internal/logging"
)

// Nudge outcomes that are counted. Anything else is ignored.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
)

// ReasonTooLong switches the user's tone to brief bullets.
const ReasonTooLong = "too_long"

// Feedback is a user's reaction to a plan.
type Feedback struct {
	UserID      string            `json:"user_id"`
	PlanID      string            `json:"plan_id,omitempty"`
	Rating      *int              `json:"rating,omitempty"`
	Reasons     []string          `json:"reasons"`
	NudgeResult map[string]string `json:"nudge_result"`
	BadSources  []string          `json:"bad_sources"`
}

// PreferencesUpdate changes only the fields that are set.
type PreferencesUpdate struct {
	Tone                  *string  `json:"tone,omitempty"`
	BlockMinutes          *int     `json:"block_minutes,omitempty"`
	Checkins              []string `json:"checkins,omitempty"`
	CoachOnlyOnRestricted *bool    `json:"coach_only_on_restricted,omitempty"`
}

// Service applies read-modify-write updates to profiles. Writes through one
// Service are serialized; readers never block.
type Service struct {
	repo   Repository
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a profile service over repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logging.OrDiscard(logger)}
}

// Repository returns the underlying repository.
func (s *Service) Repository() Repository { return s.repo }

// Get returns the profile for userID.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return s.repo.Get(ctx, userID)
}

func (s *Service) update(ctx context.Context, userID string, fn func(p *Profile) error) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrMalformedProfile) {
		s.logger.Warn("replacing malformed profile with defaults", "user_id", userID, "err", err)
		p, err = Default(userID), nil
	}
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return p, nil
}

// UpdatePreferences merges the set fields of u into the user's preferences.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, u PreferencesUpdate) (*Profile, error) {
	return s.update(ctx, userID, func(p *Profile) error {
		if u.Tone != nil {
			p.Preferences.Tone = *u.Tone
		}
		if u.BlockMinutes != nil {
			if *u.BlockMinutes <= 0 {
				return fmt.Errorf("block_minutes must be positive, got %d", *u.BlockMinutes)
			}
			p.Preferences.BlockMinutes = *u.BlockMinutes
		}
		if u.Checkins != nil {
			p.Preferences.Checkins = append([]string(nil), u.Checkins...)
		}
		if u.CoachOnlyOnRestricted != nil {
			p.Preferences.CoachOnlyOnRestricted = *u.CoachOnlyOnRestricted
		}
		return nil
	})
}

// AppendHistory appends value to the history list named key.
func (s *Service) AppendHistory(ctx context.Context, userID, key string, value any) (*Profile, error) {
	if key == "" {
		return nil, fmt.Errorf("history key is required")
	}
	return s.update(ctx, userID, func(p *Profile) error {
		p.History[key] = append(p.History[key], value)
		return nil
	})
}

// UpdateWeight multiplies the source penalty for key by factor. Only the
// source_penalty table holds multiplicative weights, and factor must lie in
// (0, 1] so penalties never move upward.
func (s *Service) UpdateWeight(ctx context.Context, userID, table, key string, factor float64) (*Profile, error) {
	if table != TableSourcePenalty {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWeightTable, table)
	}
	if factor <= 0 || factor > 1 || math.IsNaN(factor) {
		return nil, fmt.Errorf("factor must be in (0, 1], got %v", factor)
	}
	return s.update(ctx, userID, func(p *Profile) error {
		p.Weights.penalize(key, factor)
		return nil
	})
}

// ApplyFeedback adapts the profile to fb: a too_long reason switches tone to
// brief bullets, every bad source is penalized and nudge outcomes are
// counted. It reports whether the profile was updated.
func (s *Service) ApplyFeedback(ctx context.Context, fb Feedback) (bool, error) {
	if fb.UserID == "" {
		fb.UserID = DefaultUserID
	}
	_, err := s.update(ctx, fb.UserID, func(p *Profile) error {
		for _, r := range fb.Reasons {
			if r == ReasonTooLong {
				p.Preferences.Tone = "brief_bullets"
			}
		}
		for _, src := range fb.BadSources {
			p.Weights.penalize(src, BadSourceFactor)
		}
		for label, outcome := range fb.NudgeResult {
			stats := p.Weights.NudgeSuccess[label]
			switch outcome {
			case OutcomeSuccess:
				stats.Success++
			case OutcomeFail:
				stats.Fail++
			default:
				s.logger.Warn("ignoring unknown nudge outcome",
					"user_id", fb.UserID, "label", label, "outcome", outcome)
				continue
			}
			p.Weights.NudgeSuccess[label] = stats
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.logger.Debug("feedback applied",
		"user_id", fb.UserID, "plan_id", fb.PlanID, "bad_sources", len(fb.BadSources))
	return true, nil
}
