package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `db_path: ~/.startfirst/from-config.db
store:
  backend: pgvector
llm:
  provider: anthropic/claude-sonnet-4
embed:
  provider: ollama/nomic-embed-text
retrieve:
  k_global: 6
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("STARTFIRST_DB", "~/from-env.db")
	t.Setenv("STARTFIRST_LLM", "google/gemini-2.5-flash")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		DotEnvPath: filepath.Join(tmp, "missing.env"),
		CLILLM:     "openrouter/openai/gpt-4o-mini",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if strings.HasPrefix(resolved.DBPath.Value, "~") {
		t.Fatalf("expected ~ to be expanded, got %q", resolved.DBPath.Value)
	}
	if resolved.LLMProvider.Source != SourceCLI {
		t.Fatalf("expected llm provider source cli, got %s", resolved.LLMProvider.Source)
	}
	if resolved.StoreBackend.Value != "pgvector" || resolved.StoreBackend.Source != SourceConfig {
		t.Fatalf("expected store backend from config, got %+v", resolved.StoreBackend)
	}
	if got := resolved.KGlobal.Int(DefaultKGlobal); got != 6 {
		t.Fatalf("expected k_global 6, got %d", got)
	}
	if got := resolved.KUser.Int(0); got != DefaultKUser {
		t.Fatalf("expected default k_user, got %d", got)
	}
	if resolved.KUser.Source != SourceDefault {
		t.Fatalf("expected k_user source default, got %s", resolved.KUser.Source)
	}
}

func TestResolveConfig_MissingFileUsesDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("STARTFIRST_ADDR", "")
	t.Setenv("STARTFIRST_EMBED", "")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(tmp, "nope.yaml"),
		DotEnvPath: filepath.Join(tmp, "nope.env"),
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.Addr.Value != DefaultAddr {
		t.Fatalf("expected default addr, got %q", resolved.Addr.Value)
	}
	if resolved.EmbedProvider.Value != DefaultEmbed {
		t.Fatalf("expected default embed provider, got %q", resolved.EmbedProvider.Value)
	}
	if resolved.TimeoutSecs.Int(0) != DefaultTimeoutSecs {
		t.Fatalf("expected default timeout, got %q", resolved.TimeoutSecs.Value)
	}
}

func TestResolveConfig_InvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_path: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath, DotEnvPath: filepath.Join(tmp, "x.env")}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveConfig_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, ".env")
	content := "STARTFIRST_ADDR=:9999\nSTARTFIRST_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("STARTFIRST_ADDR", ":7000")
	// Registered for restore, then removed so the .env file can supply it.
	t.Setenv("STARTFIRST_LOG_LEVEL", "")
	os.Unsetenv("STARTFIRST_LOG_LEVEL")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(tmp, "none.yaml"),
		DotEnvPath: envPath,
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.Addr.Value != ":7000" {
		t.Fatalf("expected real env to win, got %q", resolved.Addr.Value)
	}
	if resolved.LogLevel.Value != "debug" || resolved.LogLevel.Source != SourceEnv {
		t.Fatalf("expected log level from .env, got %+v", resolved.LogLevel)
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `llm:
  provider: anthropic/claude-sonnet-4
  api_key: config-key
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath, DotEnvPath: filepath.Join(tmp, "x.env")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("anthropic/some-model")
	if k.Value != "env-key" {
		t.Fatalf("expected env key, got %q", k.Value)
	}
	if k.Source != SourceEnv {
		t.Fatalf("expected source env, got %s", k.Source)
	}
}

func TestAPIKeyForProvider_ConfigKeyFallback(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("llm:\n  api_key: shared\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENROUTER_API_KEY", "")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath, DotEnvPath: filepath.Join(tmp, "x.env")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if k := resolved.APIKeyForProvider("openrouter/x"); k.Value != "shared" {
		t.Fatalf("expected default key, got %q", k.Value)
	}
	if k := resolved.APIKeyForProvider(""); k.Value != "" {
		t.Fatalf("expected no key for empty provider, got %q", k.Value)
	}
}

func TestResolvedValueInt(t *testing.T) {
	if got := (ResolvedValue{Value: "12"}).Int(4); got != 12 {
		t.Fatalf("got %d", got)
	}
	if got := (ResolvedValue{Value: "-1"}).Int(4); got != 4 {
		t.Fatalf("got %d", got)
	}
	if got := (ResolvedValue{Value: "abc"}).Int(4); got != 4 {
		t.Fatalf("got %d", got)
	}
}
