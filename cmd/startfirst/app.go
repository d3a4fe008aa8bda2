package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/startfirst/startfirst/internal/config"
	"github.com/startfirst/startfirst/internal/embed"
	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/index"
	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/llm"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/plan"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/store"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg    config.ResolvedConfig
	logger *slog.Logger

	store     *store.SQLiteStore
	catalog   index.Catalog
	pipeline  *ingest.Pipeline
	profiles  *profile.Service
	retriever *retrieve.Retriever
	extractor *extract.Extractor
	composer  *plan.Composer

	closers []func() error
}

type appOptions struct {
	addr    string
	withLLM bool
}

// resolveConfig merges config file, .env, environment and flags.
func resolveConfig(addr string) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		DotEnvPath: dotEnvPath,
		CLILLM:     llmFlag,
		CLIEmbed:   embedFlag,
		CLIDBPath:  dbPath,
		CLIAddr:    addr,
	})
}

func newLogger(cfg config.ResolvedConfig) *slog.Logger {
	level := cfg.LogLevel.Value
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(os.Stderr, cfg.LogFormat.Value, level)
}

// openApp wires storage, embeddings and, when requested, the LLM-backed
// extractor and composer.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := resolveConfig(opts.addr)
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}
	a := &app{cfg: cfg, logger: newLogger(cfg)}

	emb, err := embed.Open(cfg.EmbedProvider.Value, embed.OpenOptions{
		Endpoint: cfg.EmbedEndpoint.Value,
		APIKey:   cfg.EmbedAPIKey.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("opening embedder: %w", err)
	}
	a.closeWith(emb)

	st, err := store.NewStore(store.StoreConfig{
		DBPath:              cfg.DBPath.Value,
		EmbeddingDimensions: emb.Dimensions(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: opening store: %w", ingest.ErrStorageUnavailable, err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	switch backend := strings.ToLower(cfg.StoreBackend.Value); backend {
	case "", "sqlite":
		a.catalog = index.NewSQLiteCatalog(st, emb)
	case "pgvector", "postgres":
		if cfg.PostgresDSN.Value == "" {
			a.Close()
			return nil, fmt.Errorf("%w: store backend %q needs STARTFIRST_PG_DSN or store.postgres_dsn", ingest.ErrStorageUnavailable, backend)
		}
		pg, err := index.OpenPGCatalog(ctx, index.PGConfig{DSN: cfg.PostgresDSN.Value}, emb)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: %w", ingest.ErrStorageUnavailable, err)
		}
		a.catalog = pg
		a.closers = append(a.closers, pg.Close)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown store backend %q (supported: sqlite, pgvector)", backend)
	}

	repo := profile.NewSQLiteRepository(st)
	a.profiles = profile.NewService(repo, a.logger)
	a.pipeline = ingest.NewPipeline(a.catalog, ingest.Options{Logger: a.logger})
	a.retriever = retrieve.New(a.catalog, repo, retrieve.Options{
		StoreTimeout: time.Duration(cfg.TimeoutSecs.Int(config.DefaultTimeoutSecs)) * time.Second,
		Logger:       a.logger,
	})

	if opts.withLLM {
		provider := a.openLLM()
		a.extractor = extract.New(a.retriever, provider, a.logger)
		a.composer = plan.NewComposer(a.extractor, repo, provider, a.logger)
	}

	a.logger.Debug("app ready",
		"db", cfg.DBPath.Value,
		"backend", cfg.StoreBackend.Value,
		"embed", cfg.EmbedProvider.Value)
	return a, nil
}

// openLLM returns the configured provider, or nil when none is usable.
// Without a provider, extraction falls back to pattern detection and plans
// to the static fallback.
func (a *app) openLLM() llm.Provider {
	llmCfg, err := llm.ParseLLMFlag(a.cfg.LLMProvider.Value)
	if err != nil {
		a.logger.Warn("invalid LLM setting, continuing without an LLM", "error", err)
		return nil
	}
	if key := a.cfg.APIKeyForProvider(llmCfg.Provider); key.Value != "" {
		llmCfg.APIKey = key.Value
	}
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		a.logger.Warn("LLM unavailable, continuing without one", "provider", llmCfg.Provider, "error", err)
		return nil
	}
	a.logger.Info("LLM ready", "provider", provider.Name())
	return provider
}

// closeWith registers v to be closed with the app when it holds a resource,
// such as the local embedder's model session.
func (a *app) closeWith(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// Close releases every opened resource, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
