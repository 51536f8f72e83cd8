// Package config assembles the process configuration: defaults, then an
// optional YAML file, then environment variables. Command-line flags are
// applied last by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/aggregator"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/database"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/embeddings"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/logging"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/orchestrator"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/pipeline"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/reasoning"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/retrieval"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/tracing"
)

// DefaultDims is the embedding dimension used when nothing else is configured
const DefaultDims = 384

// CacheConfig selects the query embedding cache
type CacheConfig struct {
	// Backend is "memory" (default), "redis" or "none".
	Backend  string        `yaml:"backend"`
	Size     int           `yaml:"size"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// EmbeddingsConfig is the provider plus its cache
type EmbeddingsConfig struct {
	embeddings.Config `yaml:",inline"`
	Cache             CacheConfig `yaml:"cache"`
	BatchSize         int         `yaml:"batch_size"`
}

// ServerConfig selects the MCP transport
type ServerConfig struct {
	Transport   string `yaml:"transport"`
	Addr        string `yaml:"addr"`
	SSEEndpoint string `yaml:"sse_endpoint"`
}

// Config is the full process configuration
type Config struct {
	Log          logging.Config      `yaml:"log"`
	Tracing      tracing.Config      `yaml:"tracing"`
	Metrics      metrics.Options     `yaml:"metrics"`
	Server       ServerConfig        `yaml:"server"`
	Database     database.Config     `yaml:"database"`
	Embeddings   EmbeddingsConfig    `yaml:"embeddings"`
	Reasoning    reasoning.Config    `yaml:"reasoning"`
	Retrieval    retrieval.Config    `yaml:"retrieval"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	// Policies lists the mandatory stages per artifact type; unset types keep
	// the defaults.
	Policies   map[string][]string `yaml:"policies"`
	Aggregator aggregator.Config   `yaml:"aggregator"`
	Pipeline   pipeline.Config     `yaml:"pipeline"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Log:     logging.Config{Level: "info", Format: "text"},
		Metrics: metrics.Options{Addr: ":9090"},
		Server:  ServerConfig{Transport: "stdio", Addr: ":8080", SSEEndpoint: "/sse"},
		Database: database.Config{
			URL: "file:./libsql.db",
		},
		Embeddings: EmbeddingsConfig{
			Config:    embeddings.Config{Provider: "hash"},
			Cache:     CacheConfig{Backend: "memory", Size: 1024},
			BatchSize: 32,
		},
		Reasoning:    reasoning.Config{Backend: "heuristic"},
		Retrieval:    retrieval.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Aggregator:   aggregator.DefaultConfig(),
		Pipeline:     pipeline.DefaultConfig(),
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration. path falls back to $CONFIG_FILE; an empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish reconciles dependent fields and parses the stage policies
func (c *Config) finish() error {
	switch {
	case c.Embeddings.Dims <= 0 && c.Database.EmbeddingDims <= 0:
		c.Embeddings.Dims = DefaultDims
		c.Database.EmbeddingDims = DefaultDims
	case c.Embeddings.Dims <= 0:
		c.Embeddings.Dims = c.Database.EmbeddingDims
	case c.Database.EmbeddingDims <= 0:
		c.Database.EmbeddingDims = c.Embeddings.Dims
	case c.Embeddings.Dims != c.Database.EmbeddingDims:
		return fmt.Errorf("embedding dims disagree: embeddings.dims=%d database.embedding_dims=%d", c.Embeddings.Dims, c.Database.EmbeddingDims)
	}

	if len(c.Policies) > 0 {
		parsed, err := orchestrator.ParsePolicies(c.Policies)
		if err != nil {
			return fmt.Errorf("invalid policies: %w", err)
		}
		c.Orchestrator.Policies = parsed
	}

	switch c.Server.Transport {
	case "stdio", "sse":
	default:
		return fmt.Errorf("unknown transport %q (expected stdio or sse)", c.Server.Transport)
	}
	switch c.Embeddings.Cache.Backend {
	case "", "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown embeddings cache %q", c.Embeddings.Cache.Backend)
	}
	return nil
}

// applyEnv overrides fields from the environment
func (c *Config) applyEnv() error {
	e := &envReader{}

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.boolean("TRACING_STDOUT", &c.Tracing.Stdout)
	e.boolean("METRICS_PROMETHEUS", &c.Metrics.Prometheus)
	e.str("METRICS_ADDR", &c.Metrics.Addr)

	e.str("TRANSPORT", &c.Server.Transport)
	e.str("SSE_ADDR", &c.Server.Addr)
	e.str("SSE_ENDPOINT", &c.Server.SSEEndpoint)

	e.str("LIBSQL_URL", &c.Database.URL)
	e.str("LIBSQL_AUTH_TOKEN", &c.Database.AuthToken)
	e.integer("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.integer("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	e.integer("DB_CONN_MAX_IDLE_SEC", &c.Database.ConnMaxIdleSec)
	e.integer("DB_CONN_MAX_LIFETIME_SEC", &c.Database.ConnMaxLifeSec)
	if e.integer("EMBEDDING_DIMS", &c.Embeddings.Dims) {
		c.Database.EmbeddingDims = c.Embeddings.Dims
	}

	e.str("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	e.str("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	e.str("OPENAI_API_KEY", &c.Embeddings.APIKey)
	e.str("EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)
	e.str("EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL)
	e.str("EMBEDDINGS_ADAPT_MODE", &c.Embeddings.AdaptMode)
	e.duration("EMBEDDINGS_TIMEOUT", &c.Embeddings.Timeout)
	e.str("EMBEDDINGS_CACHE", &c.Embeddings.Cache.Backend)
	e.str("REDIS_URL", &c.Embeddings.Cache.RedisURL)

	e.str("REASONING_BACKEND", &c.Reasoning.Backend)
	e.str("REASONING_MODEL", &c.Reasoning.LLM.Model)
	e.str("OPENAI_API_KEY", &c.Reasoning.LLM.APIKey)
	e.str("REASONING_API_KEY", &c.Reasoning.LLM.APIKey)
	e.str("REASONING_BASE_URL", &c.Reasoning.LLM.BaseURL)
	e.float("REASONING_RPS", &c.Reasoning.LLM.RequestsPerSecond)
	e.integer("REASONING_TOKEN_BUDGET", &c.Reasoning.LLM.TokenBudget)
	e.str("REASONING_PROMPTS_FILE", &c.Reasoning.LLM.PromptsFile)

	e.integer("RETRIEVAL_GRAPH_DEPTH", &c.Retrieval.GraphDepth)
	e.integer("RETRIEVAL_VECTOR_K", &c.Retrieval.VectorK)
	e.integer("RETRIEVAL_MAX_ITEMS", &c.Retrieval.MaxItems)
	e.duration("STAGE_TIMEOUT", &c.Orchestrator.StageTimeout)
	e.integer("STAGE_RETRIES", &c.Orchestrator.Retries)
	e.duration("REQUEST_DEADLINE", &c.Pipeline.DefaultDeadline)
	e.boolean("PERSIST_DEGRADED", &c.Pipeline.PersistDegraded)

	return errors.Join(e.errs...)
}

type envReader struct{ errs []error }

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) bool {
	v, ok := e.lookup(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return false
	}
	*dst = n
	return true
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
