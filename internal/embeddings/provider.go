package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider defines a simple embeddings provider interface.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	// Provider is "openai", "localai", "ollama", "hash" or empty for hash.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dims is the index dimension; provider output is adapted to it.
	Dims    int           `yaml:"dims"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// AdaptMode is "pad_or_truncate" (default), "truncate" or "pad".
	AdaptMode string `yaml:"adapt_mode"`
}

// New constructs the provider named by cfg.Provider and adapts its output to cfg.Dims.
func New(cfg Config) (Provider, error) {
	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "hash", "local-hash":
		p = NewHashProvider(cfg.Dims)
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("openai embeddings provider requires an API key")
		}
		p = newOpenAIProvider(cfg, "openai")
	case "localai", "llamacpp", "llama.cpp":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:8080/v1"
		}
		p = newOpenAIProvider(cfg, "localai")
	case "ollama":
		p = newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	return WrapToDims(p, cfg.Dims, cfg.AdaptMode), nil
}
