package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseLLMFlag(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantProv string
		wantMod  string
		wantErr  bool
	}{
		{"empty defaults to anthropic", "", "anthropic", "", false},
		{"bare anthropic", "anthropic", "anthropic", "", false},
		{"anthropic model", "anthropic/claude-3-5-haiku-latest", "anthropic", "claude-3-5-haiku-latest", false},
		{"google flash", "google/gemini-2.5-flash", "google", "gemini-2.5-flash", false},
		{"openrouter model", "openrouter/openai/gpt-4o-mini", "openrouter", "openai/gpt-4o-mini", false},
		{"google needs a model", "google", "", "", true},
		{"unknown provider", "mystery/model-1", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseLLMFlag(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Provider != tt.wantProv {
				t.Errorf("provider: got %q, want %q", cfg.Provider, tt.wantProv)
			}
			if cfg.Model != tt.wantMod {
				t.Errorf("model: got %q, want %q", cfg.Model, tt.wantMod)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "unknown"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewProvider(Config{Provider: "anthropic"}); err == nil {
		t.Fatal("expected error for anthropic without API key")
	}

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	if _, err := NewProvider(Config{Provider: "google"}); err == nil {
		t.Fatal("expected error for google without API key")
	}

	t.Setenv("OPENROUTER_API_KEY", "")
	if _, err := NewProvider(Config{Provider: "openrouter"}); err == nil {
		t.Fatal("expected error for openrouter without API key")
	}
}

func TestNewProviderDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "k")
	t.Setenv("ANTHROPIC_MODEL", "")
	p, err := NewProvider(Config{Provider: "anthropic"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "anthropic/"+DefaultAnthropicModel {
		t.Errorf("unexpected name %q", p.Name())
	}

	t.Setenv("ANTHROPIC_MODEL", "claude-custom")
	p, _ = NewProvider(Config{Provider: "anthropic"})
	if p.Name() != "anthropic/claude-custom" {
		t.Errorf("ANTHROPIC_MODEL not honoured: %q", p.Name())
	}
}

func TestAnthropicProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("bad api key header: %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.System != "Return JSON only. No extra text." {
			t.Errorf("unexpected system prompt %q", req.System)
		}
		if req.MaxTokens != 400 {
			t.Errorf("expected max_tokens 400, got %d", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "extract" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":" {\"deadline\":null} "}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	p := &anthropicProvider{apiKey: "test-key", model: "claude-test", baseURL: server.URL}
	got, err := p.Complete(context.Background(), "extract", CompletionOpts{
		MaxTokens: 400,
		Format:    "json",
		System:    "Return JSON only. No extra text.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"deadline":null}` {
		t.Errorf("unexpected result %q", got)
	}
}

func TestAnthropicProviderDefaults(t *testing.T) {
	var req anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer server.Close()

	p := &anthropicProvider{apiKey: "k", model: "m", baseURL: server.URL}
	if _, err := p.Complete(context.Background(), "hi", CompletionOpts{Format: "json"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.MaxTokens != anthropicMaxTokens {
		t.Errorf("expected default max tokens, got %d", req.MaxTokens)
	}
	if req.System == "" {
		t.Error("expected a JSON instruction in the system prompt")
	}
}

func TestAnthropicProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	p := &anthropicProvider{apiKey: "bad", model: "m", baseURL: server.URL}
	_, err := p.Complete(context.Background(), "hi", CompletionOpts{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Provider != "anthropic" {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestGoogleProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("bad api key header: %q", r.Header.Get("x-goog-api-key"))
		}

		var req googleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Contents) == 0 || req.Contents[0].Parts[0].Text != "test prompt" {
			t.Errorf("unexpected contents %+v", req.Contents)
		}
		if req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("expected JSON mime type, got %q", req.GenerationConfig.ResponseMimeType)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "you are helpful" {
			t.Error("system instruction not sent")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"ok\":true}"}]}}]}`))
	}))
	defer server.Close()

	p := &googleProvider{apiKey: "test-key", model: "gemini-2.5-flash", baseURL: server.URL}
	result, err := p.Complete(context.Background(), "test prompt", CompletionOpts{
		MaxTokens: 200,
		Format:    "json",
		System:    "you are helpful",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"ok":true}` {
		t.Errorf("unexpected result: %q", result)
	}
	if p.Name() != "google/gemini-2.5-flash" {
		t.Errorf("unexpected name: %q", p.Name())
	}
}

func TestGoogleProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	p := &googleProvider{apiKey: "test", model: "test", baseURL: server.URL}
	if _, err := p.Complete(context.Background(), "test", CompletionOpts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenRouterProviderComplete(t *testing.T) {
	var gotMessages int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("bad auth header: %q", r.Header.Get("Authorization"))
		}

		var req orRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotMessages = len(req.Messages)
		if req.Model != "openai/gpt-4o-mini" {
			t.Errorf("unexpected model: %q", req.Model)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("expected json_object response format")
		}

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"micro_start\":\"Open the form\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := &openrouterProvider{apiKey: "test-key", model: "openai/gpt-4o-mini", baseURL: server.URL}
	result, err := p.Complete(context.Background(), "test", CompletionOpts{
		MaxTokens: 200,
		Format:    "json",
		System:    "be helpful",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"micro_start":"Open the form"}` {
		t.Errorf("unexpected result: %q", result)
	}
	if gotMessages != 2 {
		t.Errorf("expected 2 messages (system+user), got %d", gotMessages)
	}
}

func TestOpenRouterProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	p := &openrouterProvider{apiKey: "test", model: "test", baseURL: server.URL}
	_, err := p.Complete(context.Background(), "test", CompletionOpts{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	serverDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-serverDone:
		}
	}))
	defer func() {
		close(serverDone)
		server.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := &anthropicProvider{apiKey: "test", model: "test", baseURL: server.URL}
	if _, err := p.Complete(ctx, "test", CompletionOpts{}); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Deadline string `json:"deadline"`
	}
	raw := "```json\n{\"deadline\": \"2025-03-01\"}\n```"
	if err := DecodeJSON(raw, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Deadline != "2025-03-01" {
		t.Errorf("unexpected deadline %q", out.Deadline)
	}

	if err := DecodeJSON("Sure! Here is the JSON.", &out); err == nil {
		t.Error("expected error for prose reply")
	}
	if got := StripCodeFences("  {\"a\":1}  "); got != `{"a":1}` {
		t.Errorf("unfenced input changed: %q", got)
	}
}
