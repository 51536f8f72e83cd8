package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// openAIProvider serves OpenAI and any OpenAI-compatible endpoint (LocalAI, llama.cpp)
type openAIProvider struct {
	name   string
	model  string
	dims   int
	client *openai.Client
}

func newOpenAIProvider(cfg Config, name string) *openAIProvider {
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dims := cfg.Dims
	if dims <= 0 {
		dims = 1536
		if strings.Contains(model, "large") {
			dims = 3072
		}
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{name: name, model: model, dims: dims, client: openai.NewClientWithConfig(config)}
}

func (p *openAIProvider) Name() string    { return p.name }
func (p *openAIProvider) Dimensions() int { return p.dims }

func (p *openAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(p.model),
	}
	// only the text-embedding-3 family accepts a dimensions parameter
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dims
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings request failed: %w", p.name, err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", p.name, len(resp.Data), len(inputs))
	}
	out := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
