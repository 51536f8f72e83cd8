package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// hashProvider is a deterministic, offline embedder based on signed feature
// hashing of lowercased word tokens. Texts sharing tokens get positive cosine
// similarity, which is enough for tests, demos and air-gapped deployments.
type hashProvider struct {
	dims int
}

// NewHashProvider returns the offline provider; dims <= 0 defaults to 256.
func NewHashProvider(dims int) Provider {
	if dims <= 0 {
		dims = 256
	}
	return &hashProvider{dims: dims}
}

func (p *hashProvider) Name() string    { return "hash" }
func (p *hashProvider) Dimensions() int { return p.dims }

func (p *hashProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(in)
	}
	return out, nil
}

func (p *hashProvider) embedOne(text string) []float32 {
	vec := make([]float64, p.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dims))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	var n float64
	for _, v := range vec {
		n += v * v
	}
	out := make([]float32, p.dims)
	if n == 0 {
		return out
	}
	n = math.Sqrt(n)
	for i, v := range vec {
		out[i] = float32(v / n)
	}
	return out
}
