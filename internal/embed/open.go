package embed

import (
	"fmt"
	"strings"
)

// OpenOptions carries endpoint/key overrides resolved from configuration.
type OpenOptions struct {
	Endpoint string
	APIKey   string
	ModelDir string
}

// Open builds an Embedder from a provider spec:
//
//	""  or "hash"          feature-hashing embedder
//	"local[/model]"        in-process sentence-transformer
//	"provider/model"       OpenAI-compatible HTTP client
func Open(spec string, opts OpenOptions) (Embedder, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "hash":
		return NewHashEmbedder(0), nil
	case spec == "local" || strings.HasPrefix(spec, "local/"):
		return NewLocalEmbedder(LocalConfig{
			Model:    strings.TrimPrefix(strings.TrimPrefix(spec, "local"), "/"),
			ModelDir: opts.ModelDir,
		})
	}

	cfg, err := ParseEmbedFlag(spec)
	if err != nil {
		return nil, err
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = opts.Endpoint
	}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s embedder: %w", cfg.Provider, err)
	}
	return client, nil
}
