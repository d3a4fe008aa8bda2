package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultDBPath       = "~/.startfirst/startfirst.db"
	DefaultStoreBackend = "sqlite"
	DefaultEmbed        = "hash"
	DefaultAddr         = ":8000"
	DefaultKGlobal      = 4
	DefaultKUser        = 4
	DefaultTimeoutSecs  = 10
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "pretty"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Int parses the value, returning fallback when it is empty or not a positive integer.
func (v ResolvedValue) Int(fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

type ResolveOptions struct {
	ConfigPath string
	DotEnvPath string
	CLILLM     string
	CLIEmbed   string
	CLIDBPath  string
	CLIAddr    string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath       ResolvedValue `json:"db_path"`
	StoreBackend ResolvedValue `json:"store_backend"`
	PostgresDSN  ResolvedValue `json:"-"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedAPIKey   ResolvedValue `json:"-"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`

	LLMProvider ResolvedValue `json:"llm_provider"`

	KGlobal     ResolvedValue `json:"k_global"`
	KUser       ResolvedValue `json:"k_user"`
	TimeoutSecs ResolvedValue `json:"timeout_secs"`

	Addr             ResolvedValue `json:"addr"`
	ScholarshipsPath ResolvedValue `json:"scholarships_path"`
	LogLevel         ResolvedValue `json:"log_level"`
	LogFormat        ResolvedValue `json:"log_format"`

	LLMKeys map[string]ResolvedValue `json:"-"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Store  struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"store"`
	LLM struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`
	Embed struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
	Retrieve struct {
		KGlobal     int `yaml:"k_global"`
		KUser       int `yaml:"k_user"`
		TimeoutSecs int `yaml:"timeout_secs"`
	} `yaml:"retrieve"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	ScholarshipsPath string `yaml:"scholarships_path"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".startfirst", "config.yaml")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	if err := LoadDotEnv(opts.DotEnvPath); err != nil {
		return out, err
	}

	applyDefault(&out.DBPath, DefaultDBPath)
	applyDefault(&out.StoreBackend, DefaultStoreBackend)
	applyDefault(&out.EmbedProvider, DefaultEmbed)
	applyDefault(&out.KGlobal, strconv.Itoa(DefaultKGlobal))
	applyDefault(&out.KUser, strconv.Itoa(DefaultKUser))
	applyDefault(&out.TimeoutSecs, strconv.Itoa(DefaultTimeoutSecs))
	applyDefault(&out.Addr, DefaultAddr)
	applyDefault(&out.LogLevel, DefaultLogLevel)
	applyDefault(&out.LogFormat, DefaultLogFormat)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.StoreBackend, cfg.Store.Backend, SourceConfig, path)
		apply(&out.PostgresDSN, cfg.Store.PostgresDSN, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		applyInt(&out.KGlobal, cfg.Retrieve.KGlobal, path)
		applyInt(&out.KUser, cfg.Retrieve.KUser, path)
		applyInt(&out.TimeoutSecs, cfg.Retrieve.TimeoutSecs, path)
		apply(&out.Addr, cfg.Server.Addr, SourceConfig, path)
		apply(&out.ScholarshipsPath, cfg.ScholarshipsPath, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		apply(&out.LogFormat, cfg.LogFormat, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(cfg.LLM.Provider)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "STARTFIRST_DB")
	applyEnv(&out.StoreBackend, "STARTFIRST_STORE")
	applyEnv(&out.PostgresDSN, "STARTFIRST_PG_DSN")
	applyEnv(&out.LLMProvider, "STARTFIRST_LLM")
	applyEnv(&out.EmbedProvider, "STARTFIRST_EMBED")
	applyEnv(&out.EmbedEndpoint, "STARTFIRST_EMBED_ENDPOINT")
	applyEnv(&out.EmbedAPIKey, "STARTFIRST_EMBED_API_KEY")
	applyEnv(&out.Addr, "STARTFIRST_ADDR")
	applyEnv(&out.LogLevel, "STARTFIRST_LOG_LEVEL")

	for env, provider := range map[string]string{
		"ANTHROPIC_API_KEY":  "anthropic",
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Addr, opts.CLIAddr, SourceCLI, "--addr")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.ScholarshipsPath.Value != "" {
		out.ScholarshipsPath.Value = expandUserPath(out.ScholarshipsPath.Value)
	}

	return out, nil
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, n int, from string) {
	if n <= 0 {
		return
	}
	*dst = ResolvedValue{Value: strconv.Itoa(n), Source: SourceConfig, From: from}
}

func applyDefault(dst *ResolvedValue, v string) {
	*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
