// Package llm provides a provider-agnostic completion interface used by
// field extraction and plan composition. Providers talk to their REST APIs
// over net/http.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "anthropic/claude-3-5-sonnet-20241022").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string // "anthropic", "google", "openrouter"
	Model    string
	APIKey   string // API key (empty = read from env)
	BaseURL  string // Optional URL override
}

// DefaultProvider and DefaultAnthropicModel are used when no --llm flag is given.
const (
	DefaultProvider       = "anthropic"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
)

var supported = "anthropic, google, openrouter"

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY env var")
		}
		return &anthropicProvider{
			apiKey:  key,
			model:   firstNonEmpty(cfg.Model, os.Getenv("ANTHROPIC_MODEL"), DefaultAnthropicModel),
			baseURL: firstNonEmpty(cfg.BaseURL, "https://api.anthropic.com/v1"),
		}, nil

	case "google":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var")
		}
		return &googleProvider{
			apiKey:  key,
			model:   firstNonEmpty(cfg.Model, "gemini-2.5-flash"),
			baseURL: firstNonEmpty(cfg.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
		}, nil

	case "openrouter":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENROUTER_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		return &openrouterProvider{
			apiKey:  key,
			model:   firstNonEmpty(cfg.Model, "openai/gpt-4o-mini"),
			baseURL: firstNonEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: %s)", cfg.Provider, supported)
	}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "anthropic/claude-3-5-haiku-latest",
// "openrouter/openai/gpt-4o-mini". A bare "anthropic" selects the default model.
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: DefaultProvider}, nil
	}

	provider, model, _ := strings.Cut(flag, "/")
	provider = strings.ToLower(provider)

	switch provider {
	case "anthropic":
		return Config{Provider: provider, Model: model}, nil
	case "google", "openrouter":
		if model == "" {
			return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., google/gemini-2.5-flash)", flag)
		}
		return Config{Provider: provider, Model: model}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: %s)", provider, supported)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
