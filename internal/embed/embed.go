// Package embed turns text into fixed-length float32 vectors.
//
// Three families of embedder are available:
//   - Client: any OpenAI-compatible /v1/embeddings endpoint (ollama, openai,
//     openrouter, deepseek, custom)
//   - LocalEmbedder: a sentence-transformer run in-process through hugot
//   - HashEmbedder: deterministic feature hashing, no model required
//
// Open picks one from a single "provider/model" string.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EmbedConfig holds HTTP embedding provider configuration.
type EmbedConfig struct {
	Provider    string // "ollama", "openai", "deepseek", "openrouter", "custom"
	Model       string
	Endpoint    string // full API URL
	APIKey      string
	MaxRetries  int // default: 3
	TimeoutSecs int // per-request timeout (default: 60)
}

type providerDefaults struct {
	endpoint string
	keyEnv   string
}

var httpProviders = map[string]providerDefaults{
	"ollama":     {endpoint: "http://localhost:11434/v1/embeddings"},
	"openai":     {endpoint: "https://api.openai.com/v1/embeddings", keyEnv: "OPENAI_API_KEY"},
	"deepseek":   {endpoint: "https://api.deepseek.com/v1/embeddings", keyEnv: "DEEPSEEK_API_KEY"},
	"openrouter": {endpoint: "https://openrouter.ai/api/v1/embeddings", keyEnv: "OPENROUTER_API_KEY"},
	"custom":     {},
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// HTTPError represents a non-200 reply from the embeddings endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ParseEmbedFlag parses "provider/model". Model names may contain slashes
// and colons, e.g. "openrouter/sentence-transformers/all-MiniLM-L6-v2".
func ParseEmbedFlag(flag string) (*EmbedConfig, error) {
	if flag == "" {
		return nil, fmt.Errorf("empty embedding flag")
	}

	provider, model, ok := strings.Cut(flag, "/")
	if !ok {
		return nil, fmt.Errorf("invalid --embed format: expected 'provider/model', got %q", flag)
	}
	if provider == "" {
		return nil, fmt.Errorf("empty provider in --embed flag: %q", flag)
	}
	if model == "" {
		return nil, fmt.Errorf("empty model in --embed flag: %q", flag)
	}

	defaults, known := httpProviders[provider]
	if !known {
		return nil, fmt.Errorf("unknown provider %q. Supported: ollama, openai, deepseek, openrouter, custom", provider)
	}

	cfg := &EmbedConfig{
		Provider:    provider,
		Model:       model,
		Endpoint:    defaults.endpoint,
		MaxRetries:  3,
		TimeoutSecs: 60,
	}
	if defaults.keyEnv != "" {
		cfg.APIKey = os.Getenv(defaults.keyEnv)
	}

	if endpoint := os.Getenv("STARTFIRST_EMBED_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if apiKey := os.Getenv("STARTFIRST_EMBED_API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *EmbedConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Provider != "ollama" && c.Provider != "test" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q (set via environment variable)", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Client implements Embedder over an OpenAI-compatible HTTP API.
type Client struct {
	config EmbedConfig
	http   *http.Client

	mu   sync.Mutex
	dims int
}

// NewClient creates a new embedding client with the given configuration.
func NewClient(config *EmbedConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: *config,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(embeddings))
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts in one request. Blank texts are not sent and get a
// nil vector at their position.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = append(nonEmpty, text)
			positions = append(positions, i)
		}
	}

	result := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return result, nil
	}

	embeddings, err := c.withRetry(ctx, nonEmpty)
	if err != nil {
		return nil, err
	}

	for i, emb := range embeddings {
		result[positions[i]] = emb
		if len(emb) > 0 {
			c.mu.Lock()
			c.dims = len(emb)
			c.mu.Unlock()
		}
	}
	return result, nil
}

// withRetry retries with exponential backoff (1s, 2s, 4s...), honoring
// Retry-After on 429 replies.
func (c *Client) withRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		embeddings, err := c.attempt(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Dimensions returns the vector size seen so far, or 0 before the first call.
func (c *Client) Dimensions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dims
}

func (c *Client) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.Provider == "openrouter" {
		req.Header.Set("HTTP-Referer", "https://github.com/startfirst/startfirst")
		req.Header.Set("X-Title", "StartFirst")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if seconds, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody), RetryAfter: retryAfter}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
